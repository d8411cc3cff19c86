package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keshon/lavamux/internal/config"
	"github.com/keshon/lavamux/internal/discord"
	"github.com/keshon/lavamux/internal/lavalink"
	"github.com/keshon/lavamux/internal/logging"
	"github.com/keshon/lavamux/internal/server"
	"github.com/keshon/lavamux/internal/store"
)

const (
	readyTimeout     = 30 * time.Second
	pruneInterval    = time.Hour
	sessionRetention = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireToken(); err != nil {
		log.Fatal(err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		logger.Close()
		os.Exit(1)
	}
	logger.Info().Msg("exited cleanly")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := store.New(cfg.StorePath, logger.Logger)
	if err != nil {
		return err
	}
	defer sessions.Close()
	go store.RunSessionPruner(ctx, sessions, pruneInterval, sessionRetention)

	bot, err := discord.New(cfg.DiscordToken, logger.Logger)
	if err != nil {
		return err
	}
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	userID, err := bot.Open(readyCtx)
	cancel()
	if err != nil {
		return err
	}
	defer bot.Close()

	opts := cfg.ManagerOptions()
	opts.ClientID = userID
	opts.Send = bot.Send
	opts.Sessions = sessions
	opts.Logger = logger.Logger

	m, err := lavalink.NewManager(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	m.AddListener(logEvents(logger.Logger))
	m.AddListener(destroyOnVoiceClose(ctx, logger.Logger))
	bot.Attach(m.VoiceBridge())

	// failures are logged by the manager and retried in the background
	_ = m.Connect(ctx)

	errCh := make(chan error, 1)
	if cfg.StatusAddr != "" {
		go func() { errCh <- server.New(m, logger.Logger).Run(ctx, cfg.StatusAddr) }()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-ctx.Done()
		return nil
	}
}
