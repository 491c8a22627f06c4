/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jkjh8/vp-app/internal/config"
	"github.com/jkjh8/vp-app/internal/logbuffer"
	"github.com/jkjh8/vp-app/internal/logging"
	"github.com/jkjh8/vp-app/internal/server"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "vpapp",
	Short: "vp-app - multi-channel media playback controller",
	Long:  "vp-app supervises the playback engine and exposes TCP, UDP, WebSocket and REST control surfaces over a shared playback state.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback controller",
	Long:  "Spawn the playback engine and serve the control gateways until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Recent log lines stay queryable over the API.
	logBuf = logbuffer.New(2000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("vp-app starting")

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An engine crash leaves nothing to control; shut the process down.
	srv.OnEngineCrash = func(code int) {
		logger.Error().Int("code", code).Msg("engine gone, shutting down")
		cancel()
	}

	if err := srv.Start(ctx); err != nil {
		srv.Close()
		return fmt.Errorf("start server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down gracefully...")
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}
	logger.Info().Msg("vp-app stopped")
	return nil
}
