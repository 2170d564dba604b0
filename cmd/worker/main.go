package main

import (
	"context"
	"os"

	"go.uber.org/fx"

	"github.com/chunkforge/pipeline/internal/logger"
	"github.com/chunkforge/pipeline/internal/orchestrator"
)

func main() {
	app := fx.New(
		orchestrator.Module,
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		logger.Get().Error("worker startup failed", "error", err)
		os.Exit(1)
	}

	<-app.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		logger.Get().Error("worker shutdown failed", "error", err)
	}
}
