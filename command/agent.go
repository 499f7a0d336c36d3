// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/guildhall/guildhall"
)

// shutdownGrace bounds how long the agent waits for background loops on
// exit.
const shutdownGrace = 30 * time.Second

// AgentCommand runs the long-lived guildhall process: config from the
// environment, runtime startup, then block on SIGINT/SIGTERM.
type AgentCommand struct {
	Meta
}

func (c *AgentCommand) Help() string {
	return `Usage: guildhall agent

  Starts the guildhall runtime. Configuration is read from GUILDHALL_*
  environment variables; see the project README for the full list.`
}

func (c *AgentCommand) Synopsis() string {
	return "Runs the guildhall runtime"
}

func (c *AgentCommand) Run(_ []string) int {
	logLevel := os.Getenv("GUILDHALL_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}
	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:  "guildhall",
		Level: hclog.LevelFromString(logLevel),
	})

	cfg, err := guildhall.LoadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Invalid configuration: %s", err))
		return 1
	}

	srv, err := guildhall.NewServer(cfg, logger)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Failed to start: %s", err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Run(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("Runtime error: %s", err))
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("caught signal, shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.UI.Error(fmt.Sprintf("Shutdown error: %s", err))
		return 1
	}
	return 0
}
