// Package app builds every bridge component once and wires them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/deskbridge/internal/auth"
	"github.com/ehrlich-b/deskbridge/internal/clock"
	"github.com/ehrlich-b/deskbridge/internal/config"
	"github.com/ehrlich-b/deskbridge/internal/desktop"
	"github.com/ehrlich-b/deskbridge/internal/fsops"
	"github.com/ehrlich-b/deskbridge/internal/gateway"
	"github.com/ehrlich-b/deskbridge/internal/keys"
)

const shutdownTimeout = 10 * time.Second

// App is the application context. Components receive their collaborators
// through their constructors; nothing is looked up globally.
type App struct {
	Config   *config.Config
	Keys     *keys.Manager
	Fetcher  *keys.Fetcher
	Verifier *auth.Verifier
	FS       *fsops.Local
	Registry *desktop.Registry
	Emitter  *desktop.Emitter
	Desktop  *desktop.Server
	Gateway  *gateway.Gateway
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	Clock      clock.Clock
	HTTPClient *http.Client
}

func New(cfg *config.Config, opts Options) *App {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}

	a := &App{Config: cfg}
	a.Keys = keys.NewManager(c)
	a.Registry = desktop.NewRegistry()
	a.Emitter = desktop.NewEmitter(a.Registry, cfg.Referrer())
	a.Fetcher = keys.NewFetcher(keys.FetcherConfig{
		BaseURL:        cfg.BackendBase(),
		HTTPClient:     opts.HTTPClient,
		Clock:          c,
		RetryInterval:  cfg.Backend.RetryInterval,
		RequestTimeout: cfg.Backend.RequestTimeout,
	}, a.Keys, a.Emitter)
	a.Verifier = auth.NewVerifier()
	a.FS = fsops.NewLocal()
	a.Desktop = desktop.NewServer(cfg.Desktop.Socket, a.Registry, a.Emitter, a.Keys)
	a.Gateway = gateway.New(gateway.Options{
		Addr:           net.JoinHostPort(cfg.WS.Host, strconv.Itoa(cfg.WS.Port)),
		AllowedOrigins: cfg.WS.AllowedOrigins,
	}, a.Keys, a.Fetcher, a.Verifier, a.FS, a.Registry, a.Emitter)
	return a
}

// Start binds the desktop socket and the gateway listener.
func (a *App) Start() error {
	if err := a.Desktop.Listen(); err != nil {
		return fmt.Errorf("desktop socket: %w", err)
	}
	if err := a.Gateway.Start(); err != nil {
		a.Desktop.Close()
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Run starts the bridge and serves until ctx is cancelled, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Desktop.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(a.Gateway.Stop(sctx), a.Desktop.Close())
	})
	return g.Wait()
}
