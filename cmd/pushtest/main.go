// pushtest connects to the Rosterly push hub and streams decoded
// notifications to the console. Useful for verifying hub credentials and
// watching reconnect behavior without touching the database.
// Usage: go run ./cmd/pushtest --config configs/notifier.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rosterly/realtime/internal/config"
	"github.com/rosterly/realtime/internal/model"
	"github.com/rosterly/realtime/internal/push"
	"github.com/rosterly/realtime/internal/realtime"
)

func main() {
	configPath := flag.String("config", "configs/notifier.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	transport := push.NewTransport(push.Config{
		URL:          cfg.Hub.URL,
		Token:        cfg.Hub.Token,
		PingInterval: cfg.Hub.PingInterval,
		PongTimeout:  cfg.Hub.PongTimeout,
		WriteTimeout: cfg.Hub.WriteTimeout,
		BufferSize:   cfg.Hub.BufferSize,
	}, logger)

	mgr := realtime.NewManager(realtime.Config{
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		MaxReconnectDelay:    cfg.Realtime.MaxReconnectDelay,
		FallbackInterval:     cfg.Realtime.FallbackInterval,
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval,
		OpenTimeout:          cfg.Realtime.OpenTimeout,
	}, transport, logger)

	mgr.OnStatusChange(func(s realtime.Status) {
		fmt.Printf("== status: %s attempts=%d fallback=%v err=%q\n",
			s.State, s.ReconnectAttempts, s.FallbackActive, s.LastError)
	})

	mgr.OnMessage(func(ev realtime.Event) {
		if *verbose {
			fmt.Printf("<- %s\n", ev.Data)
		}
		msg, err := push.DecodeDataMessage(ev.Data)
		if err != nil {
			logger.Warn("undecodable frame", "error", err)
			return
		}
		n, err := model.DecodeNotification(msg.Msg)
		if err != nil {
			logger.Warn("undecodable notification", "error", err)
			return
		}
		out, _ := json.Marshal(n)
		fmt.Printf("%s %s: %s\n", n.Kind, n.ID, out)
	})

	// No fallback here: pushtest is for watching the push path itself.
	mgr.Connect(cfg.Instance.SubjectID)

	<-ctx.Done()
	mgr.Disconnect()
	logger.Info("pushtest stopped")
}
