// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sentinel-works/sentinel/lib/clock"
	"github.com/sentinel-works/sentinel/lib/config"
	"github.com/sentinel-works/sentinel/lib/process"
	"github.com/sentinel-works/sentinel/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the YAML configuration file (overrides SENTINEL_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print("sentinel-ingest-service")
		return nil
	}

	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	store, err := OpenStore(StoreConfig{
		Path:     cfg.Storage.Path,
		PoolSize: cfg.Storage.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	hub := NewHub(logger)
	ingestor := NewIngestor(store, hub, logger)

	source := NewSource(SourceConfig{
		BrokerURL:      cfg.Source.BrokerURL,
		Topic:          cfg.Source.Topic,
		ClientIDPrefix: cfg.Source.ClientIDPrefix,
	}, ingestor, logger)
	source.Start(ctx)
	defer source.Stop()

	sweeper := NewSweeper(store, clk, logger,
		cfg.Retention.Horizon.Std(), cfg.Retention.SweepInterval.Std())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	api := NewAPI(store, ingestor, hub, source, cfg.Stats.TrailingWindow.Std(), logger)
	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	logger.Info("sentinel ingest service running",
		"listen", cfg.HTTP.ListenAddress,
		"broker", cfg.Source.BrokerURL,
		"topic", cfg.Source.Topic,
		"database", cfg.Storage.Path,
		"version", version.Info())

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		// ListenAndServe only returns on failure before shutdown.
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := <-serverDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
	}
	<-sweepDone

	return nil
}
