package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"wa-assistant-bridge/internal/app"
	"wa-assistant-bridge/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// ---- Clients and handler ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise bridge", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}
