package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/filescope/internal/bootstrap"
	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
	"github.com/bryanwahyu/filescope/internal/infra/files"
)

var submitCmd = &cli.Command{
	Name:      "submit",
	Usage:     "analyze, publish and register a dataset file",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "private", Usage: "register the dataset as private"},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return cli.ShowSubcommandHelp(cctx)
		}
		path, err := filepath.Abs(cctx.Args().First())
		if err != nil {
			return err
		}
		name, size, err := files.Describe(path)
		if err != nil {
			return err
		}
		vis := domain.VisibilityPublic
		if cctx.Bool("private") {
			vis = domain.VisibilityPrivate
		}

		e, a, err := openApp(cctx)
		if err != nil {
			return err
		}
		defer closeApp(e, a)

		// snapshot lama harus diselesaikan dulu
		if snap, err := a.Session.Load(cctx.Context); err != nil {
			return err
		} else if snap != nil {
			return fmt.Errorf("a %s submission of %s is pending; run resume, retry or reset first", snap.State, snap.FileName)
		}

		cancel := a.Machine.Observe(progressPrinter(cctx.App.ErrWriter))
		defer cancel()

		file := domain.FileInfo{Name: name, Size: size, MimeType: domain.DetectMime(name), Ref: path}
		if err := a.Machine.Submit(cctx.Context, file, vis); err != nil {
			return err
		}
		return finish(cctx, a)
	},
}

var resumeCmd = &cli.Command{
	Name:  "resume",
	Usage: "continue the persisted submission, or collect its confirmed result",
	Action: func(cctx *cli.Context) error {
		e, a, err := openApp(cctx)
		if err != nil {
			return err
		}
		defer closeApp(e, a)

		cancel := a.Machine.Observe(progressPrinter(cctx.App.ErrWriter))
		defer cancel()

		h, err := a.Machine.Resume(cctx.Context)
		if err != nil {
			return err
		}
		if h != nil {
			return printJSON(cctx.App.Writer, h)
		}
		return finish(cctx, a)
	},
}

var retryCmd = &cli.Command{
	Name:  "retry",
	Usage: "re-enter the failed stage of the persisted submission",
	Action: func(cctx *cli.Context) error {
		e, a, err := openApp(cctx)
		if err != nil {
			return err
		}
		defer closeApp(e, a)

		if err := restoreFailed(cctx.Context, a); err != nil {
			return err
		}
		cancel := a.Machine.Observe(progressPrinter(cctx.App.ErrWriter))
		defer cancel()

		if err := a.Machine.Retry(cctx.Context); err != nil {
			return err
		}
		return finish(cctx, a)
	},
}

var resetCmd = &cli.Command{
	Name:  "reset",
	Usage: "abandon the failed submission",
	Action: func(cctx *cli.Context) error {
		e, a, err := openApp(cctx)
		if err != nil {
			return err
		}
		defer closeApp(e, a)

		snap, err := a.Session.Load(cctx.Context)
		switch {
		case errors.Is(err, domain.ErrRecoveryCorruption):
			// unreadable snapshot, Reset from Idle drops it
		case err != nil:
			return err
		case snap == nil:
			fmt.Fprintln(cctx.App.Writer, "nothing to reset")
			return nil
		default:
			if err := restoreFailed(cctx.Context, a); err != nil {
				return err
			}
		}
		if err := a.Machine.Reset(cctx.Context); err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, "reset")
		return nil
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "print the persisted submission without touching remote services",
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()
		a, err := bootstrap.OpenSession(cctx.Context, e.cfg, e.log)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Session.Load(cctx.Context)
		if err != nil {
			return err
		}
		if snap == nil {
			fmt.Fprintln(cctx.App.Writer, "idle")
			return nil
		}
		return printJSON(cctx.App.Writer, snap)
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "serve the pipeline over HTTP",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "port", Usage: "overrides server.port"},
	},
	Action: func(cctx *cli.Context) error {
		e, a, err := openApp(cctx)
		if err != nil {
			return err
		}
		defer closeApp(e, a)

		port := a.Config.Server.Port
		if cctx.IsSet("port") {
			port = cctx.Int("port")
		}
		ctx := cctx.Context
		router := a.Router(ctx)
		srv := &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			e.log.Info("server running", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			e.log.Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
			defer cancel()
			err := srv.Shutdown(sctx)
			// background runs stop with ctx; snapshots keep them resumable
			router.Wait()
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		e.log.Info("server exited gracefully")
		return nil
	},
}

// restoreFailed loads a Failed snapshot into the machine without driving it.
func restoreFailed(ctx context.Context, a *bootstrap.App) error {
	snap, err := a.Session.Load(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return errors.New("no persisted submission")
	}
	if snap.State != domain.StateFailed {
		return fmt.Errorf("submission is %s, not failed; use resume", snap.State)
	}
	if _, err := a.Machine.Resume(ctx); err != nil {
		return err
	}
	if st := a.Machine.Current().State; st != domain.StateFailed {
		return fmt.Errorf("recovery left the submission %s", st)
	}
	return nil
}

// finish prints the outcome of a drive and consumes the handoff when confirmed.
func finish(cctx *cli.Context, a *bootstrap.App) error {
	cur := a.Machine.Current()
	if cur.State == domain.StateConfirmed {
		h, err := a.Machine.Acknowledge(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, h)
	}
	return outcome(cctx.App.Writer, cur)
}

// outcome reports a submission that did not confirm. Failures and recovery
// errors exit with status 2.
func outcome(w io.Writer, cur domain.Submission) error {
	switch {
	case cur.State == domain.StateFailed:
		msg := "unknown error"
		if cur.LastError != nil {
			msg = describe(cur.LastError)
		}
		return cli.Exit("submission failed: "+msg+" (run retry or reset)", 2)
	case cur.State == domain.StateIdle && cur.LastError != nil:
		return cli.Exit("recovery failed: "+describe(cur.LastError)+" (snapshot kept, run resume or reset)", 2)
	default:
		fmt.Fprintln(w, cur.State)
		return nil
	}
}

func describe(e *domain.ErrorDescriptor) string {
	return fmt.Sprintf("%s during %s: %s", e.Kind, e.Stage, e.Message)
}

func progressPrinter(w io.Writer) domain.Observer {
	return domain.ObserverFunc(func(u domain.Update) {
		if u.LastError != nil {
			fmt.Fprintf(w, "%-12s %5.1f%%  %s\n", u.State, u.Progress, describe(u.LastError))
			return
		}
		fmt.Fprintf(w, "%-12s %5.1f%%\n", u.State, u.Progress)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
