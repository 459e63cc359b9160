// notifier subscribes to the Rosterly push hub and persists notifications
// to the local store, falling back to REST polling when the hub is
// unreachable.
// Usage: go run ./cmd/notifier --config configs/notifier.local.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rosterly/realtime/internal/api"
	"github.com/rosterly/realtime/internal/config"
	"github.com/rosterly/realtime/internal/database"
	"github.com/rosterly/realtime/internal/metrics"
	"github.com/rosterly/realtime/internal/model"
	"github.com/rosterly/realtime/internal/push"
	"github.com/rosterly/realtime/internal/realtime"
	"github.com/rosterly/realtime/internal/version"
	"github.com/rosterly/realtime/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/notifier.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting notifier",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"subject_id", cfg.Instance.SubjectID,
		"hub_url", cfg.Hub.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Metrics
	m := metrics.New()

	// Notification writer
	w := writer.NewNotificationWriter(writer.Config{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
	}, pool, logger)
	w.OnFlush(m.ObserveFlush)

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start writer", "error", err)
		os.Exit(1)
	}

	// REST client for the fallback poller
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Push transport
	transport := push.NewTransport(push.Config{
		URL:          cfg.Hub.URL,
		Token:        cfg.Hub.Token,
		PingInterval: cfg.Hub.PingInterval,
		PongTimeout:  cfg.Hub.PongTimeout,
		WriteTimeout: cfg.Hub.WriteTimeout,
		BufferSize:   cfg.Hub.BufferSize,
	}, logger)

	// Connection manager
	mgr := realtime.NewManager(realtime.Config{
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		MaxReconnectDelay:    cfg.Realtime.MaxReconnectDelay,
		FallbackInterval:     cfg.Realtime.FallbackInterval,
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval,
		OpenTimeout:          cfg.Realtime.OpenTimeout,
	}, transport, logger)

	mgr.OnStatusChange(func(s realtime.Status) {
		m.ObserveStatus(s)
		logger.Info("connection status",
			"state", s.State,
			"attempts", s.ReconnectAttempts,
			"fallback", s.FallbackActive,
			"last_error", s.LastError,
		)
	})

	// Track the newest notification we have seen so fallback polls only
	// fetch the gap.
	var lastSeenTS atomic.Int64

	mgr.OnMessage(func(ev realtime.Event) {
		m.ObserveMessage()
		n, err := decodePushEvent(ev.Data)
		if err != nil {
			logger.Warn("dropping undecodable push message", "error", err)
			return
		}
		if n.CreatedTS > lastSeenTS.Load() {
			lastSeenTS.Store(n.CreatedTS)
		}
		w.Enqueue(n)
	})

	mgr.SetFallback(func(ctx context.Context) error {
		m.ObserveFallbackPoll()
		notifs, err := apiClient.ListNotifications(ctx, cfg.Instance.SubjectID, lastSeenTS.Load(), 200)
		if err != nil {
			return err
		}
		for _, n := range notifs {
			if n.CreatedTS > lastSeenTS.Load() {
				lastSeenTS.Store(n.CreatedTS)
			}
			w.Enqueue(n)
		}
		return nil
	})

	mgr.Connect(cfg.Instance.SubjectID)

	// Metrics server
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())
	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer pingCancel()
		if err := pool.Ping(pingCtx); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(rw, "db unreachable: %v\n", err)
			return
		}
		fmt.Fprintf(rw, "ok state=%s\n", mgr.Status().State)
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", metricsPath)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")
		mgr.Disconnect()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		metricsServer.Shutdown(shutdownCtx)
		return w.Stop(shutdownCtx)
	})

	logger.Info("notifier running",
		"instance_id", cfg.Instance.ID,
		"metrics_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, metricsPath),
	)

	if err := g.Wait(); err != nil {
		logger.Error("notifier exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("notifier stopped")
}

// decodePushEvent unwraps a hub data frame into a notification.
func decodePushEvent(data []byte) (model.Notification, error) {
	msg, err := push.DecodeDataMessage(data)
	if err != nil {
		return model.Notification{}, err
	}
	return model.DecodeNotification(msg.Msg)
}
