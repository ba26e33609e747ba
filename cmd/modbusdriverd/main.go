// Copyright 2025 The Modbus Driver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command modbusdriverd runs the Modbus TCP slave driver: it serves the
// Modbus protocol on one port and a JSON control API on another, watching
// its own health and restarting itself on unexpected failure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironspan/modbus-driver/api"
	"github.com/ironspan/modbus-driver/lifecycle"
)

var rootCmd = &cobra.Command{
	Use:   "modbusdriverd",
	Short: "Modbus TCP slave driver with a JSON control surface",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	settings := settingsFromViper()

	level := new(slog.LevelVar)
	if settings.DebugMode {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	manager := lifecycle.NewManager(settings, lifecycle.WithLogger(logger), lifecycle.WithLevelVar(level))

	watchConfigReload(func(debug bool) {
		logger.Info("config reloaded", slog.Bool("debug", debug))
		manager.SetDebugMode(debug)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start driver: %w", err)
	}

	watchdog := lifecycle.NewWatchdog(manager, logger)
	go watchdog.Run(ctx)

	apiServer := &http.Server{Addr: apiAddr, Handler: api.NewServer(manager, logger)}
	go func() {
		logger.Info("control API listening", slog.String("addr", apiAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control API error", slog.String("error", err.Error()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	apiServer.Shutdown(context.Background())
	manager.Stop(true)
	return nil
}
