package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/convograph/internal/api"
	"github.com/nidhogg/convograph/internal/app"
	"github.com/nidhogg/convograph/internal/config"
	"github.com/nidhogg/convograph/internal/layout"
	"github.com/nidhogg/convograph/internal/settings"
	"github.com/nidhogg/convograph/internal/source"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting convograph...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	var cfg *config.Config
	if cfgPath == "" {
		cfg = config.Default()
		logger.Info("No CONFIG_PATH set, using defaults")
	} else {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
		}
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	// Load persisted settings snapshot
	store := settings.NewStore(cfg.App.SettingsPath, logger)
	snap, err := store.Load()
	if err != nil {
		logger.Fatal("failed to load settings", zap.Error(err))
	}

	// Wire the source client and the interactive core
	client := source.NewClient(cfg.Source.BaseURL, time.Duration(cfg.Source.TimeoutSecs)*time.Second, logger)
	extent := float64(cfg.App.SeedExtent)
	seedArea := layout.Rect{
		Min: layout.Vec2{X: -extent, Y: -extent},
		Max: layout.Vec2{X: extent, Y: extent},
	}
	a := app.New(client, snap, seedArea, cfg.App.LayoutSeed, logger)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initial load; tolerate a backend that is not up yet.
	if err := a.Reload(rootCtx); err != nil {
		logger.Warn("initial load failed, starting empty", zap.Error(err))
	}

	// React to settings edits on disk
	go func() {
		if err := store.Watch(rootCtx, a.ApplySettings); err != nil && rootCtx.Err() == nil {
			logger.Warn("settings watcher stopped", zap.Error(err))
		}
	}()

	// Frame loop: fixed timestep, skipped while nothing would change
	go func() {
		interval := time.Second / time.Duration(cfg.App.FrameRate)
		dt := interval.Seconds()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if a.NeedsFrame() {
					a.Update(dt)
				}
			}
		}
	}()

	// Periodic auto-refresh when enabled in settings
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		elapsed := 0
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n := a.Settings().AutoRefreshSecs
				if n <= 0 {
					elapsed = 0
					continue
				}
				elapsed++
				if elapsed >= n {
					elapsed = 0
					if err := a.Reload(rootCtx); err != nil {
						logger.Warn("auto refresh failed", zap.Error(err))
					}
				}
			}
		}
	}()

	// Build HTTP handler
	handler := api.NewHandler(a, client, store, logger)

	// Start server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("convograph listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down convograph...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
