// Package server wires the passvault server together: storage backend, vault
// and account services, the command dispatcher, the audit trail, Prometheus
// metrics and the TCP listener, and runs them until a shutdown signal.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/passvault/internal/logging"
	"github.com/dmitrijs2005/passvault/internal/server/audit"
	"github.com/dmitrijs2005/passvault/internal/server/config"
	"github.com/dmitrijs2005/passvault/internal/server/dispatch"
	"github.com/dmitrijs2005/passvault/internal/server/locks"
	"github.com/dmitrijs2005/passvault/internal/server/metrics"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/passvault/internal/server/safety"
	"github.com/dmitrijs2005/passvault/internal/server/services"
	"github.com/dmitrijs2005/passvault/internal/server/storage"
	"github.com/dmitrijs2005/passvault/internal/server/tcp"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	backend storage.Backend
	audit   *audit.Async
	sinks   []io.Closer
	server  *tcp.Server

	listener        net.Listener
	metricsListener net.Listener
}

// NewApp opens storage, the audit sinks and both listeners. If any step fails
// everything opened so far is released.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (app *App, err error) {
	if logger == nil {
		logger = logging.Nop()
	}
	app = &App{config: c, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.release(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	if c.SecretKey == "" {
		logger.Warn(ctx, "no secret key configured, per-user keys depend on the username only")
	}

	app.backend, err = storage.New(ctx, c.StorageOptions())
	if err != nil {
		return app, fmt.Errorf("storage init error: %w", err)
	}

	recorder, err := app.openAudit(ctx)
	if err != nil {
		return app, fmt.Errorf("audit init error: %w", err)
	}
	app.audit = audit.NewAsync(recorder, c.AuditBuffer, logger)

	lt := locks.New()
	keys := c.KeyDeriver()
	vs := services.NewVaultService(vaults.NewStorageRepository(app.backend), lt, keys, logger)
	us, err := services.NewUserService(accounts.NewStorageRepository(app.backend), vs, lt, keys, c.BcryptCost, logger)
	if err != nil {
		return app, err
	}

	d := dispatch.New(dispatch.Options{
		Accounts:       us,
		Vaults:         vs,
		Checker:        app.safetyChecker(),
		Audit:          app.audit,
		Metrics:        app.metrics,
		Logger:         logger,
		PasswordLength: c.PasswordLength,
	})

	app.server = tcp.NewServer(tcp.Options{
		Address:        c.ListenAddr,
		Handler:        d,
		Logger:         logger,
		Metrics:        app.metrics,
		MaxConnections: c.MaxConnections,
		IdleTimeout:    c.IdleTimeout,
	})

	app.listener, err = net.Listen("tcp", c.ListenAddr)
	if err != nil {
		return app, err
	}
	if c.MetricsAddr != "" {
		app.metricsListener, err = net.Listen("tcp", c.MetricsAddr)
		if err != nil {
			return app, err
		}
	}
	return app, nil
}

func (app *App) openAudit(ctx context.Context) (audit.Recorder, error) {
	var sinks audit.Multi

	if app.config.AuditFile != "" {
		fr, err := audit.NewFileRecorder(app.config.AuditFile)
		if err != nil {
			return nil, err
		}
		app.sinks = append(app.sinks, fr)
		sinks = append(sinks, fr)
	}

	if app.config.AuditDSN != "" {
		dialect, err := audit.DialectFor(app.config.AuditDriver)
		if err != nil {
			return nil, err
		}
		sr, err := audit.OpenSQLRecorder(ctx, dialect, app.config.AuditDSN)
		if err != nil {
			return nil, err
		}
		app.sinks = append(app.sinks, sr)
		sinks = append(sinks, sr)
	}

	switch len(sinks) {
	case 0:
		return audit.Nop{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

func (app *App) safetyChecker() safety.Checker {
	if app.config.SafetyChecker != config.SafetyEnzoic {
		return nil
	}
	e := safety.NewEnzoic(app.config.SafetyURL, app.config.SafetyAPIKey, app.config.SafetyTimeout)
	e.Client.Transport = app.metrics.InstrumentRoundTripper(http.DefaultTransport)
	return e
}

// Addr is the address the TCP server listens on.
func (app *App) Addr() net.Addr {
	return app.listener.Addr()
}

// MetricsAddr is the address of the /metrics endpoint, nil when disabled.
func (app *App) MetricsAddr() net.Addr {
	if app.metricsListener == nil {
		return nil
	}
	return app.metricsListener.Addr()
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then drains
// connections and the audit queue.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "address", app.Addr().String(), "storage", app.config.StorageBackend, "safety", app.config.SafetyChecker)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.server.Serve(gctx, app.listener)
	})

	if app.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			app.logger.Info(gctx, "Starting metrics server", "address", app.metricsListener.Addr().String())
			if err := srv.Serve(app.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), app.config.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	app.logger.Info(ctx, "Stopping app...")
	app.release(context.WithoutCancel(ctx))
	return err
}

func (app *App) release(ctx context.Context) {
	if app.listener != nil {
		app.listener.Close()
	}
	if app.metricsListener != nil {
		app.metricsListener.Close()
	}

	if app.audit != nil {
		timeout := app.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		flushCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := app.audit.Close(flushCtx); err != nil {
			app.logger.Error(ctx, "audit queue not flushed", "error", err)
		}
		cancel()
	}
	for _, s := range app.sinks {
		if err := s.Close(); err != nil {
			app.logger.Error(ctx, "failed to close audit sink", "error", err)
		}
	}
	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			app.logger.Error(ctx, "failed to close storage", "error", err)
		}
	}
}
