package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/orrn/snapproxy/internal/app"
	"github.com/orrn/snapproxy/internal/config"
	"github.com/orrn/snapproxy/internal/logging"
	"github.com/orrn/snapproxy/internal/snapmaker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snapproxy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logging.New(cfg.Logging, os.Stderr)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting snapproxy", "device", cfg.Device.Endpoint, "addr", cfg.Server.Addr())

	proxy, err := app.New(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("interrupted before the device authorized the connection")
			return nil
		}
		var authErr *snapmaker.AuthError
		if errors.As(err, &authErr) {
			log.Error("device refused authorization; approve the connection on the touchscreen and restart", "error", err)
		}
		return err
	}

	return proxy.Run(ctx)
}
