package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/parlance-app/backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Admin); err != nil {
		stop()
		log.Fatalf("admin-api: %v", err)
	}
}
