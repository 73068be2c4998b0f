package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bgde/vocab-platform/internal/app"
	"github.com/bgde/vocab-platform/internal/syncqueue"
	"github.com/bgde/vocab-platform/pkg/logger"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search and review HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				c.cfg.Server.Port = port
			}
			return serve(cmd.Context(), c)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func serve(parent context.Context, c *cli) error {
	cfg := c.cfg
	log := logger.WithComponent("server")
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting vocabulary service", "port", cfg.Server.Port, "content", contentSource(c))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	a, err := app.New(ctx, cfg, app.Options{Metrics: m, Services: true})
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer a.Close()

	if res, err := a.Reload(ctx); err != nil {
		log.Warn("initial content load failed, index empty until reindex", "error", err)
	} else {
		log.Info("search index built", "indexed", res.Indexed, "skipped", res.Skipped, "terms", res.Terms, "duration", res.Duration)
	}

	if a.Queue != nil {
		worker := syncqueue.NewWorker(a.Queue, a.Sender, cfg.Sync.Interval)
		if err := worker.Start(ctx); err != nil {
			return err
		}
		defer worker.Stop()
	}

	sweeper := gocron.NewScheduler(time.UTC)
	if _, err := sweeper.Every(sweepInterval(cfg.Review.SessionTTL)).Do(func() {
		if n := a.Sessions.Sweep(); n > 0 {
			log.Debug("expired review sessions removed", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling session sweep: %w", err)
	}
	sweeper.StartAsync()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("vocabulary service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("vocabulary service stopped")
	return nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	if d < time.Minute {
		return time.Minute
	}
	return d
}

func contentSource(c *cli) string {
	if c.cfg.Content.LocalDir != "" {
		return c.cfg.Content.LocalDir
	}
	return c.cfg.Content.BaseURL
}
