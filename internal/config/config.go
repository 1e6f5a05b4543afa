package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/filescope/internal/logging"
)

// EnvPrefix for environment overrides, e.g. FILESCOPE_LEDGER_PRIVATE_KEY.
const EnvPrefix = "FILESCOPE"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          logging.Config     `yaml:"log"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Session      SessionConfig      `yaml:"session"`
	Database     DatabaseConfig     `yaml:"database"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	ContentStore ContentStoreConfig `yaml:"contentstore"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Records      RecordsConfig      `yaml:"records"`
}

type ServerConfig struct {
	Port            int               `yaml:"port"`
	APIKeys         map[string]string `yaml:"apiKeys" envconfig:"api_keys"`
	AllowedOrigins  []string          `yaml:"allowedOrigins" envconfig:"allowed_origins"`
	RateCapacity    int               `yaml:"rateCapacity" envconfig:"rate_capacity"`
	RatePerSecond   int               `yaml:"ratePerSecond" envconfig:"rate_per_second"`
	ShutdownTimeout time.Duration     `yaml:"shutdownTimeout" envconfig:"shutdown_timeout"`
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio" envconfig:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

type PipelineConfig struct {
	MaxFileSize  int64         `yaml:"maxFileSize" envconfig:"max_file_size"`
	PollInterval time.Duration `yaml:"pollInterval" envconfig:"poll_interval"`
	PollAttempts int           `yaml:"pollAttempts" envconfig:"poll_attempts"`
	Namespace    string        `yaml:"namespace"`
	SpoolDir     string        `yaml:"spoolDir" envconfig:"spool_dir"`
	CacheSize    int           `yaml:"cacheSize" envconfig:"cache_size"`
}

// SessionConfig picks the KeyValueStore behind session snapshots.
type SessionConfig struct {
	Backend string `yaml:"backend"` // memory | leveldb | mysql | postgres
	Path    string `yaml:"path"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql | postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode" envconfig:"ssl_mode"`
}

type AnalysisConfig struct {
	Backend string        `yaml:"backend"` // httpapi | openai
	BaseURL string        `yaml:"baseURL" envconfig:"base_url"`
	APIKey  string        `yaml:"apiKey" envconfig:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type ContentStoreConfig struct {
	Backend    string        `yaml:"backend"`  // gateway | minio
	Provider   string        `yaml:"provider"` // lighthouse | web3storage
	Token      string        `yaml:"token"`
	APIURL     string        `yaml:"apiURL" envconfig:"api_url"`
	GatewayURL string        `yaml:"gatewayURL" envconfig:"gateway_url"`
	Timeout    time.Duration `yaml:"timeout"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey" envconfig:"access_key"`
		SecretKey  string `yaml:"secretKey" envconfig:"secret_key"`
		BucketName string `yaml:"bucketName" envconfig:"bucket_name"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL" envconfig:"use_ssl"`
		Prefix     string `yaml:"prefix"`
	} `yaml:"minio"`
}

type LedgerConfig struct {
	RPCURL          string        `yaml:"rpcURL" envconfig:"rpc_url"`
	ContractAddress string        `yaml:"contractAddress" envconfig:"contract_address"`
	PrivateKey      string        `yaml:"privateKey" envconfig:"private_key"`
	ChainID         int64         `yaml:"chainID" envconfig:"chain_id"`
	ExplorerURL     string        `yaml:"explorerURL" envconfig:"explorer_url"`
	ReceiptMinDelay time.Duration `yaml:"receiptMinDelay" envconfig:"receipt_min_delay"`
	ReceiptMaxDelay time.Duration `yaml:"receiptMaxDelay" envconfig:"receipt_max_delay"`
}

type RecordsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load baca file config (optional) lalu override dari environment
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Pipeline.MaxFileSize == 0 {
		c.Pipeline.MaxFileSize = 100 << 20
	}
	if c.Pipeline.PollInterval == 0 {
		c.Pipeline.PollInterval = 5 * time.Second
	}
	if c.Pipeline.PollAttempts == 0 {
		c.Pipeline.PollAttempts = 12
	}
	if c.Pipeline.Namespace == "" {
		c.Pipeline.Namespace = "filescope/session"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "leveldb"
	}
	if c.Session.Path == "" {
		c.Session.Path = ".filescope/session"
	}
	if c.Database.Driver == "" && (c.Session.Backend == "mysql" || c.Session.Backend == "postgres") {
		c.Database.Driver = c.Session.Backend
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Analysis.Backend == "" {
		c.Analysis.Backend = "httpapi"
	}
	if c.ContentStore.Backend == "" {
		c.ContentStore.Backend = "gateway"
	}
	if c.ContentStore.Provider == "" {
		c.ContentStore.Provider = "lighthouse"
	}
	if c.ContentStore.Minio.BucketName == "" {
		c.ContentStore.Minio.BucketName = "filescope"
	}
}

// ValidateSession checks only what opening the session store needs.
func (c *Config) ValidateSession() error {
	var result *multierror.Error
	switch c.Session.Backend {
	case "memory", "leveldb":
	case "mysql", "postgres":
		result = multierror.Append(result, c.validateDatabase())
	default:
		result = multierror.Append(result, fmt.Errorf("session.backend %q: want memory, leveldb, mysql or postgres", c.Session.Backend))
	}
	return result.ErrorOrNil()
}

// Validate checks everything the full pipeline needs and reports all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if err := c.ValidateSession(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Pipeline.PollAttempts < 1 {
		result = multierror.Append(result, errors.New("pipeline.pollAttempts must be at least 1"))
	}
	if c.Pipeline.MaxFileSize < 1 {
		result = multierror.Append(result, errors.New("pipeline.maxFileSize must be positive"))
	}

	switch c.Analysis.Backend {
	case "httpapi":
		if err := validURL(c.Analysis.BaseURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("analysis.baseURL: %w", err))
		}
	case "openai":
		if c.Analysis.APIKey == "" {
			result = multierror.Append(result, errors.New("analysis.apiKey is required for the openai backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("analysis.backend %q: want httpapi or openai", c.Analysis.Backend))
	}

	cs := c.ContentStore
	switch cs.Backend {
	case "gateway":
		if cs.Provider != "lighthouse" && cs.Provider != "web3storage" {
			result = multierror.Append(result, fmt.Errorf("contentstore.provider %q: want lighthouse or web3storage", cs.Provider))
		}
		if cs.Token == "" {
			result = multierror.Append(result, errors.New("contentstore.token is required"))
		}
	case "minio":
		if cs.Minio.Endpoint == "" || cs.Minio.AccessKey == "" || cs.Minio.SecretKey == "" {
			result = multierror.Append(result, errors.New("contentstore.minio needs endpoint, accessKey and secretKey"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("contentstore.backend %q: want gateway or minio", cs.Backend))
	}

	if err := validURL(c.Ledger.RPCURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("ledger.rpcURL: %w", err))
	}
	if c.Ledger.ContractAddress == "" {
		result = multierror.Append(result, errors.New("ledger.contractAddress is required"))
	}
	if c.Ledger.PrivateKey == "" {
		result = multierror.Append(result, errors.New("ledger.privateKey is required"))
	}

	if c.Records.Enabled && c.Database.Driver == "" {
		result = multierror.Append(result, errors.New("records.enabled needs database.driver"))
	} else if c.Records.Enabled && c.Session.Backend != c.Database.Driver {
		result = multierror.Append(result, c.validateDatabase())
	}
	return result.ErrorOrNil()
}

func (c *Config) validateDatabase() error {
	var result *multierror.Error
	if c.Database.Driver != "mysql" && c.Database.Driver != "postgres" {
		result = multierror.Append(result, fmt.Errorf("database.driver %q: want mysql or postgres", c.Database.Driver))
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		result = multierror.Append(result, errors.New("database needs host and name"))
	}
	return result.ErrorOrNil()
}

func validURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq keyword/value DSN
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		quoteDSN(c.Database.User),
		quoteDSN(c.Database.Password),
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func quoteDSN(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
	}
	return v
}
