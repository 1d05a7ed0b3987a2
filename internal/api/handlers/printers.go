package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/snapproxy/internal/snapmaker"
)

// Device is the subset of the Snapmaker client the request handlers drive.
type Device interface {
	SendControl(ctx context.Context, token string, cmd snapmaker.Command) error
	SetEnclosure(ctx context.Context, token string, field snapmaker.EnclosureField, value uint8) error
	UploadAndPrepare(ctx context.Context, token, filename string, file io.Reader) error
}

// multipartMemory is how much of an upload is held in memory before the
// remainder spills to a temp file.
const multipartMemory = 32 << 20

type PrinterHandler struct {
	device          Device
	token           string
	printStartDelay time.Duration
	maxUploadBytes  int64
	log             *slog.Logger
}

type PrinterHandlerConfig struct {
	PrintStartDelay time.Duration
	MaxUploadBytes  int64
}

func NewPrinterHandler(device Device, token string, cfg PrinterHandlerConfig, log *slog.Logger) *PrinterHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &PrinterHandler{
		device:          device,
		token:           token,
		printStartDelay: cfg.PrintStartDelay,
		maxUploadBytes:  cfg.MaxUploadBytes,
		log:             log.With("component", "printer_handler"),
	}
}

func (h *PrinterHandler) PausePrint(c *gin.Context) {
	h.control(c, snapmaker.CommandPause, "pause")
}

func (h *PrinterHandler) StopPrint(c *gin.Context) {
	h.control(c, snapmaker.CommandStop, "stop")
}

func (h *PrinterHandler) ResumePrint(c *gin.Context) {
	h.control(c, snapmaker.CommandResume, "resume")
}

func (h *PrinterHandler) control(c *gin.Context, cmd snapmaker.Command, verb string) {
	if err := h.device.SendControl(c.Request.Context(), h.token, cmd); err != nil {
		h.log.Error("control command failed", "command", cmd, "error", err)
		c.String(http.StatusInternalServerError, "Failed to %s print: %v", verb, err)
		return
	}
	c.String(http.StatusOK, "Print %s successfully", pastTense(verb))
}

func pastTense(verb string) string {
	switch verb {
	case "stop":
		return "stopped"
	case "pause":
		return "paused"
	default:
		return verb + "d"
	}
}

func (h *PrinterHandler) SetEnclosureLight(c *gin.Context) {
	h.setEnclosure(c, snapmaker.EnclosureLED)
}

func (h *PrinterHandler) SetEnclosureFan(c *gin.Context) {
	h.setEnclosure(c, snapmaker.EnclosureFan)
}

func (h *PrinterHandler) setEnclosure(c *gin.Context, field snapmaker.EnclosureField) {
	value, err := parseByte(c.PostForm("value"))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid value: %v", err)
		return
	}

	if err := h.device.SetEnclosure(c.Request.Context(), h.token, field, value); err != nil {
		h.log.Error("enclosure update failed", "field", field, "value", value, "error", err)
		c.String(http.StatusInternalServerError, "Failed to set enclosure %s: %v", field, err)
		return
	}
	c.String(http.StatusOK, "%d", value)
}

func parseByte(raw string) (uint8, error) {
	if raw == "" {
		return 0, errors.New("missing value")
	}
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, errors.New("must be an integer between 0 and 255")
	}
	return uint8(n), nil
}

// UploadFile accepts an OctoPrint style multipart upload, forwards it to the
// device and optionally starts the print once the device has taken the file.
func (h *PrinterHandler) UploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "Upload exceeds %d bytes", tooLarge.Limit)
			return
		}
		c.String(http.StatusBadRequest, "Invalid upload: %v", err)
		return
	}

	startPrint := false
	if raw := c.PostForm("print"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.String(http.StatusBadRequest, "Invalid print flag: %q", raw)
			return
		}
		startPrint = v
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if hasFormValue(c, "file") {
			c.String(http.StatusBadRequest, "No filename provided")
			return
		}
		c.String(http.StatusBadRequest, "No file provided")
		return
	}
	if fileHeader.Filename == "" {
		c.String(http.StatusBadRequest, "No filename provided")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to read upload: %v", err)
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	if err := h.device.UploadAndPrepare(ctx, h.token, fileHeader.Filename, file); err != nil {
		h.log.Error("upload failed", "file", fileHeader.Filename, "error", err)
		c.String(http.StatusInternalServerError, "Upload Error from snapmaker: %v", err)
		return
	}
	h.log.Info("file uploaded", "file", fileHeader.Filename, "size", fileHeader.Size, "print", startPrint)

	if startPrint {
		// The device needs a moment after prepare_print before it accepts start_print.
		if err := sleepCtx(ctx, h.printStartDelay); err != nil {
			c.String(http.StatusServiceUnavailable, "Print start cancelled: %v", err)
			return
		}
		if err := h.device.SendControl(ctx, h.token, snapmaker.CommandStart); err != nil {
			h.log.Error("print start failed", "file", fileHeader.Filename, "error", err)
			c.String(http.StatusInternalServerError, "Print start Error from snapmaker: %v", err)
			return
		}
		h.log.Info("print started", "file", fileHeader.Filename)
	}

	c.String(http.StatusCreated, "Success")
}

func hasFormValue(c *gin.Context, key string) bool {
	form := c.Request.MultipartForm
	if form == nil {
		return false
	}
	_, ok := form.Value[key]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func RegisterPrinterRoutes(router *gin.Engine, handler *PrinterHandler) {
	api := router.Group("/api")
	api.POST("/pause_print", handler.PausePrint)
	api.POST("/stop_print", handler.StopPrint)
	api.POST("/resume_print", handler.ResumePrint)
	api.POST("/enclosure/light", handler.SetEnclosureLight)
	api.POST("/enclosure/fan", handler.SetEnclosureFan)
	api.POST("/files/local", handler.UploadFile)
}
