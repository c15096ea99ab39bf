package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swifthaul/logistics-api/api/handlers"
	"github.com/swifthaul/logistics-api/config"
)

func main() {
	a := handlers.App{}
	a.Config = *config.New()

	if err := a.Initialize(); err != nil { //initialize database, router and scheduler
		zap.S().Fatalw("failed to initialize logistics-api", "error", err)
	}

	port := os.Getenv("PORT")
	baseURL := os.Getenv("BASE_URL")
	zap.S().Infow("logistics-api is up and running",
		"port", port,
		"url", baseURL,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%v", port),
		Handler: a.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.S().Fatalw("server stopped", "error", err)
		}
	}()

	// SIGTERM is the platform's shutdown notice; finish in-flight requests and
	// let the scheduler release its job locks before exiting.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zap.S().Info("shutting down logistics-api")
	a.Scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Errorw("graceful shutdown failed", "error", err)
	}
}
