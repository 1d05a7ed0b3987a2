package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// staleFactor is how many poll intervals may pass without a successful
// device read before the proxy reports itself stale.
const staleFactor = 5

type HealthResponse struct {
	Status     string     `json:"status"`
	LastUpdate *time.Time `json:"last_update"`
	Stale      bool       `json:"stale"`
}

type HealthHandler struct {
	status       StatusSource
	pollInterval time.Duration
	now          func() time.Time
}

func NewHealthHandler(status StatusSource, pollInterval time.Duration) *HealthHandler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &HealthHandler{status: status, pollInterval: pollInterval, now: time.Now}
}

func (h *HealthHandler) Health(c *gin.Context) {
	last := h.status.LastPublished()
	if last.IsZero() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "starting", Stale: true})
		return
	}

	resp := HealthResponse{Status: "ok", LastUpdate: &last}
	if h.now().Sub(last) > staleFactor*h.pollInterval {
		resp.Status = "stale"
		resp.Stale = true
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func RegisterHealthRoutes(router *gin.Engine, handler *HealthHandler) {
	router.GET("/healthz", handler.Health)
}
