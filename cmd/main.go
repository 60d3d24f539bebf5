package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"tire-assistant/internal/app"
	"tire-assistant/internal/config"
	"tire-assistant/internal/logging"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, true)
	slog.SetDefault(logger)

	// ---- Clients and handler ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble app", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	lambda.Start(a.Handler.Handle)
}
