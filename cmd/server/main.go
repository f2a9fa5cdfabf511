package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/relay/internal/config"
	"github.com/Tyrowin/relay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.FromEnv()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	slog.Info("relay starting",
		"port", cfg.Port,
		"allowed_origins", cfg.AllowedOrigins,
		"max_message_size", cfg.MaxMessageSize,
		"asset_path", cfg.AssetPath,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relay := server.New(cfg, nil, logger)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				if updated.Port != cfg.Port {
					slog.Warn("port change requires a restart", "current", cfg.Port, "requested", updated.Port)
				}
				relay.ApplyConfig(updated)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	httpServer := server.CreateServer(cfg.Port, relay.Routes())

	errc := make(chan error, 1)
	go func() {
		errc <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errc:
		if err != nil {
			slog.Error("HTTP server stopped", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	slog.Info("relay shutting down")
	_ = server.ShutdownServer(httpServer, cfg.ShutdownTimeout)
	_ = relay.Shutdown(cfg.ShutdownTimeout)
}
