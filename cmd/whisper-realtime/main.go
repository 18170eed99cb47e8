package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/JE-lee/whisper-comment/internal/server"
	"github.com/JE-lee/whisper-comment/pkg/comments"
	"github.com/JE-lee/whisper-comment/pkg/config"
	"github.com/JE-lee/whisper-comment/pkg/directory/redisdir"
	"github.com/JE-lee/whisper-comment/pkg/logging"
	"github.com/JE-lee/whisper-comment/pkg/notify"
	"github.com/JE-lee/whisper-comment/pkg/push"
)

func main() {
	logger := logging.New(logging.ParseLevel(os.Getenv("WHISPER_LOG_LEVEL")))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dir, err := redisdir.New(ctx, redisdir.Config{
		Addr:      cfg.Directory.Addr,
		Password:  cfg.Directory.Password,
		DB:        cfg.Directory.DB,
		KeyPrefix: cfg.Directory.KeyPrefix,
		TTL:       cfg.Directory.TTL,
	}, logger)
	if err != nil {
		logger.Error("Failed to connect to the connection directory", slog.Any("error", err))
		os.Exit(1)
	}
	defer dir.Close()

	commentsClient := comments.NewClient(cfg.Collaborators.CommentsEndpoint, cfg.Collaborators.Timeout)
	var pusher notify.Pusher
	if cfg.Collaborators.PushEndpoint != "" {
		pusher = push.NewClient(cfg.Collaborators.PushEndpoint, cfg.Collaborators.Timeout)
	}

	app := server.NewApp(logger, ctx, cfg, dir, commentsClient, pusher)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
