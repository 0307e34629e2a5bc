package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/app"
	"github.com/Nayan-Bera/New-Practo-backend/internal/config"
	"github.com/Nayan-Bera/New-Practo-backend/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	defer log.Sync()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
		}
	}

	if err := application.Stop(); err != nil {
		log.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}
