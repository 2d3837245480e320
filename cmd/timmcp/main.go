// Package main is the entry point for the timmcp server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/cmd/timmcp/app"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	// Execute the root command with context
	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
