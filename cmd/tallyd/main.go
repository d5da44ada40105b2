package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"tally/internal/config"
	"tally/internal/daemon"
	"tally/internal/journal"
	"tally/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := journal.Open(cfg)
	if err != nil {
		logger.Error("open journal", logging.Args(logging.Error(err))...)
		return
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		store.Close()
		logger.Error("create daemon", logging.Args(logging.Error(err))...)
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Args(logging.Error(err))...)
		return
	}
	logger.Info("tallyd listening", logging.Args(logging.String("addr", d.APIAddr()))...)

	<-ctx.Done()
	logger.Info("tallyd shutting down")
}
