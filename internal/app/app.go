// Package app wires the proxy together and runs it until its context ends.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/orrn/snapproxy/internal/api"
	"github.com/orrn/snapproxy/internal/api/handlers"
	"github.com/orrn/snapproxy/internal/config"
	"github.com/orrn/snapproxy/internal/core"
	"github.com/orrn/snapproxy/internal/db"
	"github.com/orrn/snapproxy/internal/discovery"
	"github.com/orrn/snapproxy/internal/snapmaker"
	"github.com/orrn/snapproxy/internal/tokenstore"
	"github.com/orrn/snapproxy/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg         *config.Config
	log         *slog.Logger
	database    *sql.DB
	broadcaster *core.Broadcaster
	keepAlive   *core.KeepAlive
	webhooks    *webhook.WebhookSender
	router      *gin.Engine
}

// New acquires a device token and builds every component. It blocks while
// the device waits for the connection to be approved on its touchscreen.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	store, err := a.openTokenStore()
	if err != nil {
		return nil, err
	}

	client := snapmaker.NewClient(snapmaker.Config{
		Endpoint:       cfg.Device.Endpoint,
		RequestTimeout: cfg.Device.RequestTimeout,
		ConnectTimeout: cfg.Device.ConnectTimeout,
		UploadTimeout:  cfg.Device.UploadTimeout,
	}, log)

	token, err := client.AcquireToken(ctx, store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to acquire device token: %w", err)
	}

	a.broadcaster = core.NewBroadcaster()
	a.keepAlive = core.NewKeepAlive(client, token, a.broadcaster, cfg.Device.PollInterval, log)

	if len(cfg.Webhooks.Endpoints) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.Webhooks.Endpoints))
		for _, ep := range cfg.Webhooks.Endpoints {
			endpoints = append(endpoints, webhook.Endpoint{URL: ep.URL, Secret: ep.Secret})
		}
		a.webhooks = webhook.NewWebhookSender(webhook.WebhookConfig{
			Endpoints:   endpoints,
			RetryCount:  cfg.Webhooks.RetryCount,
			RetryDelay:  cfg.Webhooks.RetryDelay,
			Timeout:     cfg.Webhooks.Timeout,
			WorkerCount: cfg.Webhooks.WorkerCount,
			QueueSize:   cfg.Webhooks.QueueSize,
		}, log)
		a.keepAlive.SetNotifier(a.webhooks)
	}

	a.router, err = api.NewRouter(api.RouterConfig{
		Device:          client,
		Token:           token,
		Status:          a.broadcaster,
		PollInterval:    cfg.Device.PollInterval,
		PrintStartDelay: cfg.Device.PrintStartDelay,
		MaxUploadBytes:  cfg.Server.MaxUploadMB << 20,
		Log:             log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) openTokenStore() (snapmaker.TokenStore, error) {
	switch a.cfg.Token.Store {
	case config.TokenStoreSQLite:
		database, err := db.Open(db.Config{Path: a.cfg.Database.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.database = database
		return tokenstore.NewSQLiteStore(database, tokenstore.NewSealer(a.cfg.Token.Passphrase)), nil
	default:
		return tokenstore.NewFileStore(a.cfg.Token.Path), nil
	}
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Status is the broadcaster every reader of printer state goes through.
func (a *App) Status() *core.Broadcaster {
	return a.broadcaster
}

func (a *App) Close() error {
	if a.database != nil {
		return a.database.Close()
	}
	return nil
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the keep-alive loop, webhook workers, service advertisement
// and HTTP server on ln. It returns nil on a clean shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(a.keepAlive.Run(gctx))
	})

	if a.webhooks != nil {
		g.Go(func() error {
			return ignoreCanceled(a.webhooks.Run(gctx))
		})
	}

	if a.cfg.Discovery.Enabled {
		port := a.cfg.Server.Port
		if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		adv := discovery.NewAdvertiser(discovery.Config{
			InstanceName: a.cfg.Discovery.InstanceName,
			Port:         port,
			Version:      handlers.Version.Server,
			API:          handlers.Version.API,
		}, a.log)
		g.Go(func() error {
			// Discovery is a convenience; the proxy keeps serving without it.
			if err := adv.Run(gctx); err != nil {
				a.log.Warn("service discovery disabled", "error", err)
			}
			return nil
		})
	}

	srv := &http.Server{
		Handler:        a.router,
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	g.Go(func() error {
		a.log.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

