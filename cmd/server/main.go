package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dragons-keep/server/internal/app"
	"dragons-keep/server/internal/config"
	"dragons-keep/server/internal/telemetry"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "[dragons-keep] ", log.LstdFlags)
	if err := app.Run(ctx, app.Config{Logger: telemetry.WrapLogger(logger), Settings: settings}); err != nil {
		log.Fatalf("%v", err)
	}
}
