package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/application"
	apprecords "github.com/bryanwahyu/filescope/internal/application/records"
	appsub "github.com/bryanwahyu/filescope/internal/application/submission"
	"github.com/bryanwahyu/filescope/internal/config"
	"github.com/bryanwahyu/filescope/internal/domain/analysis"
	"github.com/bryanwahyu/filescope/internal/domain/content"
	"github.com/bryanwahyu/filescope/internal/domain/records"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/infra/analysis/httpapi"
	"github.com/bryanwahyu/filescope/internal/infra/analysis/openai"
	"github.com/bryanwahyu/filescope/internal/infra/contentstore/gateway"
	"github.com/bryanwahyu/filescope/internal/infra/contentstore/objectstore"
	mysqlp "github.com/bryanwahyu/filescope/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/filescope/internal/infra/db/postgres"
	"github.com/bryanwahyu/filescope/internal/infra/files"
	"github.com/bryanwahyu/filescope/internal/infra/httpserver"
	"github.com/bryanwahyu/filescope/internal/infra/kv"
	"github.com/bryanwahyu/filescope/internal/infra/ledger/evm"
	"github.com/bryanwahyu/filescope/internal/logging"
	"github.com/bryanwahyu/filescope/internal/middleware"
	"github.com/bryanwahyu/filescope/internal/observability"
)

// contentBackend is what the pipeline needs from a content store: uploads for
// publishing and reads for dereferencing metadata.
type contentBackend interface {
	content.Store
	content.Fetcher
}

// App holds the wired pipeline. Close releases everything it opened.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Session *appsub.Session
	Machine *appsub.Machine
	Reader  *appsub.Reader
	Records *apprecords.Service
	Spool   *files.Local
	Checks  map[string]middleware.HealthChecker

	db      *sql.DB
	closers []func() error
}

// OpenSession opens only the session store, enough for read-only commands.
func OpenSession(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.ValidateSession(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: logging.OrNop(log), Checks: map[string]middleware.HealthChecker{}}
	store, err := a.newKVStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Session = &appsub.Session{Store: store, Namespace: cfg.Pipeline.Namespace}
	return a, nil
}

// New wires the full pipeline from cfg.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := OpenSession(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	spool, err := files.NewLocal(cfg.Pipeline.SpoolDir)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	a.Spool = spool

	svc, err := a.newAnalysis()
	if err != nil {
		return err
	}
	store, err := a.newContentStore(ctx)
	if err != nil {
		return err
	}
	reader, err := appsub.NewReader(store, cfg.Pipeline.CacheSize)
	if err != nil {
		return fmt.Errorf("metadata reader: %w", err)
	}
	a.Reader = reader

	chain, err := evm.Dial(ctx, evm.Config{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		PrivateKey:      cfg.Ledger.PrivateKey,
		ChainID:         cfg.Ledger.ChainID,
		ExplorerURL:     cfg.Ledger.ExplorerURL,
	}, a.Log)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if cfg.Ledger.ReceiptMinDelay > 0 {
		chain.MinDelay = cfg.Ledger.ReceiptMinDelay
	}
	if cfg.Ledger.ReceiptMaxDelay > 0 {
		chain.MaxDelay = cfg.Ledger.ReceiptMaxDelay
	}

	clk := application.SystemClock()
	m := &appsub.Machine{
		Analysis: svc,
		Files:    spool,
		Poller: &appsub.Poller{
			Service:     svc,
			Clock:       clk,
			Interval:    cfg.Pipeline.PollInterval,
			MaxAttempts: cfg.Pipeline.PollAttempts,
			Log:         a.Log,
		},
		Publisher:   &appsub.Publisher{Store: store, Files: spool, Log: a.Log},
		Ledger:      chain,
		Session:     a.Session,
		Metadata:    reader,
		Clock:       clk,
		Log:         a.Log,
		MaxFileSize: cfg.Pipeline.MaxFileSize,
	}

	var repo records.Repository
	if cfg.Records.Enabled {
		if repo, err = a.newRecordsRepo(ctx); err != nil {
			return err
		}
		// assign only when set, a typed nil would look enabled
		m.Records = repo
	}
	a.Records = apprecords.NewService(repo)
	a.Machine = m
	return nil
}

// Router builds the HTTP surface over the wired pipeline.
func (a *App) Router(ctx context.Context) *httpserver.Router {
	s := a.Config.Server
	return httpserver.NewRouter(ctx, a.Machine, a.Records, a.Reader, a.Spool, httpserver.Options{
		APIKeys:        s.APIKeys,
		AllowedOrigins: s.AllowedOrigins,
		RateCapacity:   s.RateCapacity,
		RatePerSecond:  s.RatePerSecond,
		Checks:         a.Checks,
	}, a.Log)
}

func (a *App) newKVStore(ctx context.Context) (domain.KeyValueStore, error) {
	switch backend := a.Config.Session.Backend; backend {
	case "memory":
		return kv.NewMemory(), nil
	case "leveldb":
		s, err := kv.OpenLevelDB(a.Config.Session.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store %s: %w", a.Config.Session.Path, err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "mysql":
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		return mysqlp.NewKVStore(db), nil
	case "postgres":
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		return postgresp.NewKVStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", backend)
	}
}

func (a *App) newRecordsRepo(ctx context.Context) (records.Repository, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	if a.Config.Database.Driver == "postgres" {
		return postgresp.NewPublicationRepository(db), nil
	}
	return mysqlp.NewPublicationRepository(db), nil
}

// database opens the shared SQL pool once and makes sure the tables exist.
func (a *App) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg := a.Config
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Database.Driver {
	case "mysql":
		if db, err = mysqlp.Connect(ctx, cfg.MySQLDSN()); err == nil {
			err = mysqlp.EnsureSchema(ctx, db)
		}
	case "postgres":
		if db, err = postgresp.Connect(ctx, cfg.PostgresDSN()); err == nil {
			err = postgresp.EnsureSchema(ctx, db)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("%s: %w", cfg.Database.Driver, err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.Checks["database"] = &middleware.DatabaseHealthChecker{DB: db}
	a.Log.Info("database ready", zap.String("driver", cfg.Database.Driver), zap.String("host", cfg.Database.Host))
	return db, nil
}

func (a *App) newAnalysis() (analysis.Service, error) {
	cfg := a.Config.Analysis
	switch cfg.Backend {
	case "httpapi":
		opts := []httpapi.Option{httpapi.WithLogger(a.Log)}
		if cfg.Timeout > 0 {
			opts = append(opts, httpapi.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return httpapi.NewClient(cfg.BaseURL, cfg.APIKey, opts...), nil
	case "openai":
		an := openai.NewAnalyzer(cfg.APIKey, cfg.Model, a.Log)
		if cfg.Timeout > 0 {
			an.Timeout = cfg.Timeout
		}
		a.closers = append(a.closers, func() error { an.Wait(); return nil })
		return an, nil
	default:
		return nil, fmt.Errorf("unsupported analysis backend %q", cfg.Backend)
	}
}

func (a *App) newContentStore(ctx context.Context) (contentBackend, error) {
	cfg := a.Config.ContentStore
	switch cfg.Backend {
	case "gateway":
		s, err := gateway.New(gateway.Config{
			Provider:   gateway.Provider(cfg.Provider),
			Token:      cfg.Token,
			APIURL:     cfg.APIURL,
			GatewayURL: cfg.GatewayURL,
			Timeout:    cfg.Timeout,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
		return s, nil
	case "minio":
		mc := cfg.Minio
		s, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:  mc.Endpoint,
			Region:    mc.Region,
			Bucket:    mc.BucketName,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			UseSSL:    mc.UseSSL,
			Prefix:    mc.Prefix,
			SpoolDir:  a.Config.Pipeline.SpoolDir,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
		a.Checks["objectstore"] = middleware.CheckFunc(func(ctx context.Context) error {
			return s.Ping(ctx)
		})
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported content store backend %q", cfg.Backend)
	}
}

// Close releases stores and waits for background analysis jobs, newest first.
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

// TracingConfig maps the tracing section onto the observability package.
func TracingConfig(cfg *config.Config) observability.TracingConfig {
	return observability.TracingConfig{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: "filescope",
		Environment: cfg.Tracing.Environment,
	}
}
