package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/illenko/relicwatch/analyzer"
	"github.com/illenko/relicwatch/api"
	"github.com/illenko/relicwatch/api/handler"
	"github.com/illenko/relicwatch/query"
	"github.com/illenko/relicwatch/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the background refresh",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.start(ctx)

	retention, err := cfg.HistoryRetention()
	if err != nil {
		return err
	}
	sched := scheduler.New(a.coordinator, scheduler.Config{
		Interval:  cfg.Refresh.CheckInterval,
		Retention: retention,
		DB:        a.db,
	})

	facade := query.New(a.store, a.coordinator, query.Config{})

	var chat handler.Asker
	if cfg.Gemini.APIKey != "" {
		gen, err := analyzer.NewGeminiGenerator(ctx, cfg.Gemini)
		if err != nil {
			return fmt.Errorf("failed to create analyzer: %w", err)
		}
		chat = analyzer.NewChat(facade, gen, a.history, analyzer.Config{
			HistoryTTL: cfg.Gemini.HistoryTTL,
			Store:      a.store,
			Metrics:    a.metrics,
		})
		slog.Info("chat enabled", "model", cfg.Gemini.Model)
	} else {
		slog.Warn("chat disabled: RELICWATCH_GEMINI_API_KEY not set")
	}

	var breaker handler.BreakerReporter
	if a.client != nil {
		breaker = a.client
	}

	server := api.NewServer(api.Handlers{
		Health:    handler.NewHealthHandler(facade, a.db, breaker),
		Cache:     handler.NewCacheHandler(facade, sched, a.runs),
		Entities:  handler.NewEntitiesHandler(facade),
		Incidents: handler.NewIncidentsHandler(a.incidents),
		Chat:      handler.NewChatHandler(chat),
		Metrics:   a.metrics,
	}, api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})

	sched.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-sigCh:
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server error", "error", serveErr)
	}

	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	facade.Wait()
	sched.Wait()

	if err := a.close(); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("stopped")

	return serveErr
}
