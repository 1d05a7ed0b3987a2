// Package api assembles the proxy's HTTP surface.
package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/snapproxy/internal/api/handlers"
	"github.com/orrn/snapproxy/internal/api/middleware"
)

type RouterConfig struct {
	Device          handlers.Device
	Token           string
	Status          handlers.StatusSource
	PollInterval    time.Duration
	PrintStartDelay time.Duration
	MaxUploadBytes  int64
	Log             *slog.Logger
}

// routes polled by the web UI on a timer
var quietRoutes = []string{"/render/", "/static/", "/api/status", "/healthz"}

func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	tmpl, err := handlers.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.AccessLog(log, quietRoutes...), middleware.Recovery(log))
	router.SetHTMLTemplate(tmpl)

	handlers.RegisterWebUIRoutes(router, handlers.NewWebUIHandler(cfg.Status))
	handlers.RegisterHealthRoutes(router, handlers.NewHealthHandler(cfg.Status, cfg.PollInterval))
	handlers.RegisterStreamRoutes(router, handlers.NewStreamHandler(cfg.Status, log))
	handlers.RegisterPrinterRoutes(router, handlers.NewPrinterHandler(cfg.Device, cfg.Token, handlers.PrinterHandlerConfig{
		PrintStartDelay: cfg.PrintStartDelay,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	}, log))

	return router, nil
}
