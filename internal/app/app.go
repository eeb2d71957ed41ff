package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatsync/internal/retention"
	"chatsync/pkg/blob"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/realtime"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
	"chatsync/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	hub *realtime.Hub
	srv *http.Server
}

// New initializes resources that do not require a running context (DB, blob
// store, validation limits, runtime keys). It does not start the fanout hub
// or the HTTP server; call Run to start those and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, FrontendKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range eff.Config.Security.APIKeys.Frontend {
		runtimeCfg.FrontendKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	// payload limits
	validation.SetLimits(validation.Limits{
		MaxContentBytes: eff.Config.Limits.MaxContentBytes,
		MaxBlobBytes:    eff.Config.Limits.MaxBlobBytes,
	})

	// runtime folder layout under the db path
	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs under %s: %w", eff.DBPath, err)
	}

	// open store
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	// attachment store
	blobDir := eff.Config.Server.BlobDir
	if blobDir != "" {
		if err := blob.Init(blobDir, eff.Config.Security.SigningKey); err != nil {
			return nil, fmt.Errorf("failed to init blob store at %s: %w", blobDir, err)
		}
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	return a, nil
}

// Run starts the fanout hub, the retention scheduler and the HTTP server,
// and blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.hub = realtime.NewHub(a.eff.Config.Realtime.QueueCapacity)
	go a.hub.Run()

	retention.SetEffectiveConfig(a.eff)
	stopRetention, err := retention.Start(ctx, a.eff)
	if err != nil {
		return err
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	stopRetention()
	a.shutdown()
	return runErr
}

// shutdown drains the HTTP server, stops the hub and closes the store.
func (a *App) shutdown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	if a.hub != nil {
		a.hub.Stop()
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	logger.Info("shutdown_complete")
}
