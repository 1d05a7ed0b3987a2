package handlers

import (
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/snapproxy/internal/core"
	"github.com/orrn/snapproxy/web"
)

// StatusSource is read by every handler that shows printer state.
type StatusSource interface {
	Latest() core.PrinterStatus
	LastPublished() time.Time
	Subscribe() *core.Subscription
}

type VersionResponse struct {
	API    string `json:"api"`
	Server string `json:"server"`
	Text   string `json:"text"`
}

// Version is what OctoPrint clients query before talking to the proxy.
var Version = VersionResponse{
	API:    "0.1",
	Server: "1.9.0",
	Text:   "OctoPrint (Snapmaker Proxy)",
}

type WebUIHandler struct {
	status StatusSource
}

func NewWebUIHandler(status StatusSource) *WebUIHandler {
	return &WebUIHandler{status: status}
}

func (h *WebUIHandler) pageData() gin.H {
	return gin.H{"Status": h.status.Latest()}
}

func (h *WebUIHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index", h.pageData())
}

func (h *WebUIHandler) RenderStatus(c *gin.Context) {
	c.HTML(http.StatusOK, "status", h.pageData())
}

func (h *WebUIHandler) RenderControls(c *gin.Context) {
	c.HTML(http.StatusOK, "controls", h.pageData())
}

func (h *WebUIHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Latest())
}

func (h *WebUIHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, Version)
}

// LoadTemplates parses the embedded page templates with the helpers they use.
func LoadTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(TemplateFuncs()).ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"percent":  percent,
		"duration": formatSeconds,
		"lower":    strings.ToLower,
	}
}

// percent turns the device's 0..1 progress fraction into a clamped percentage.
func percent(fraction float64) float64 {
	p := fraction * 100
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "-"
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func RegisterWebUIRoutes(router *gin.Engine, handler *WebUIHandler) {
	router.GET("/", handler.Index)
	router.GET("/render/status", handler.RenderStatus)
	router.GET("/render/controls", handler.RenderControls)
	router.GET("/api/status", handler.GetStatus)
	router.GET("/api/version", handler.GetVersion)
	router.StaticFS("/static", http.FS(web.Static()))
}
