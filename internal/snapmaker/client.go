package snapmaker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orrn/snapproxy/internal/core"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultConnectTimeout = 2 * time.Minute
	defaultUploadTimeout  = 10 * time.Minute

	// maxErrorBody caps how much of a failed response is kept in errors.
	maxErrorBody = 4096
)

// Command is a print control verb understood by the device.
type Command string

const (
	CommandPause  Command = "pause_print"
	CommandStop   Command = "stop_print"
	CommandResume Command = "resume_print"
	CommandStart  Command = "start_print"
)

// EnclosureField selects which enclosure output SetEnclosure changes.
type EnclosureField string

const (
	EnclosureLED EnclosureField = "led"
	EnclosureFan EnclosureField = "fan"
)

type Config struct {
	Endpoint       string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	UploadTimeout  time.Duration
}

// Client talks to the Snapmaker HTTP API. It holds no token; every call
// takes the token explicitly.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	connectTimeout time.Duration
	uploadTimeout  time.Duration
	now            func() time.Time
	log            *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.Endpoint, "/"),
		httpClient:     &http.Client{},
		requestTimeout: cfg.RequestTimeout,
		connectTimeout: cfg.ConnectTimeout,
		uploadTimeout:  cfg.UploadTimeout,
		now:            time.Now,
		log:            log.With("component", "snapmaker"),
	}
}

func (c *Client) apiURL(route string) string {
	return c.baseURL + "/api/v1/" + route
}

// withToken appends the token query parameter and, for reads, a bare
// timestamp key that defeats caching on the device.
func (c *Client) withToken(route, token string, cacheBust bool) string {
	q := url.Values{"token": {token}}.Encode()
	if cacheBust {
		q += "&" + strconv.FormatInt(c.now().Unix(), 10)
	}
	return c.apiURL(route) + "?" + q
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// expectSuccess sends req and returns a RequestError carrying the status
// and body text for any non-2xx response.
func (c *Client) expectSuccess(ctx context.Context, op string, req *http.Request) error {
	resp, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, route, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, c.withToken(route, token, true), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("malformed body: %w", err)}
	}
	return nil
}

// FetchStatus reads the printer status. The device reports work speed in
// mm/h; the returned value is mm/min.
func (c *Client) FetchStatus(ctx context.Context, token string) (core.PrinterStatus, error) {
	var raw deviceStatus
	if err := c.getJSON(ctx, "status request", "status", token, &raw); err != nil {
		return core.PrinterStatus{}, err
	}

	status, err := raw.toPrinterStatus()
	if err != nil {
		return core.PrinterStatus{}, &RequestError{Op: "status request", StatusCode: http.StatusOK, Err: err}
	}
	status.WorkSpeed = status.WorkSpeed / 60
	return status, nil
}

func (c *Client) FetchEnclosure(ctx context.Context, token string) (core.EnclosureStatus, error) {
	var raw deviceEnclosure
	if err := c.getJSON(ctx, "enclosure request", "enclosure", token, &raw); err != nil {
		return core.EnclosureStatus{}, err
	}
	return core.EnclosureStatus{LED: raw.LED, Fan: raw.Fan}, nil
}

// SendControl posts one of the print control verbs with the token in the
// query string and no body.
func (c *Client) SendControl(ctx context.Context, token string, cmd Command) error {
	switch cmd {
	case CommandPause, CommandStop, CommandResume, CommandStart:
	default:
		return fmt.Errorf("unknown print command %q", cmd)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequest(http.MethodPost, c.withToken(string(cmd), token, false), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	op := strings.ReplaceAll(string(cmd), "_", " ")
	if err := c.expectSuccess(ctx, op, req); err != nil {
		c.log.Error("print command failed", "command", cmd, "error", err)
		return err
	}
	return nil
}

// SetEnclosure sets a single enclosure output. The field that is not sent
// keeps its current value on the device.
func (c *Client) SetEnclosure(ctx context.Context, token string, field EnclosureField, value uint8) error {
	if field != EnclosureLED && field != EnclosureFan {
		return fmt.Errorf("unknown enclosure field %q", field)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	form := url.Values{
		"token":       {token},
		string(field): {strconv.Itoa(int(value))},
	}
	req, err := http.NewRequest(http.MethodPost, c.apiURL("enclosure"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.expectSuccess(ctx, "set enclosure "+string(field), req)
}

// UploadAndPrepare stages a file for printing through prepare_print. The
// plain upload endpoint is not used: files sent there cannot be started
// afterwards.
func (c *Client) UploadAndPrepare(ctx context.Context, token, filename string, file io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	length := uploadLength(mw.Boundary(), token, filename, file)

	// The body is written as the transport reads it, so the file is never
	// held in memory whole.
	written := make(chan int64, 1)
	go func() {
		n, err := writeUploadBody(mw, token, filename, file)
		written <- n
		pw.CloseWithError(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequest(http.MethodPost, c.apiURL("prepare_print"), pr)
	if err != nil {
		pr.Close()
		<-written
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = length

	err = c.expectSuccess(ctx, "prepare print", req)
	// Unblocks the writer if the transport stopped reading early.
	pr.Close()
	size := <-written
	if err != nil {
		return err
	}
	c.log.Info("file prepared on printer", "file", filename, "bytes", size)
	return nil
}

// uploadLength predicts the encoded body size when file can report its
// remaining length, so the device gets a Content-Length instead of a chunked
// body. It returns -1 when the size is unknown.
func uploadLength(boundary, token, filename string, file io.Reader) int64 {
	seeker, ok := file.(io.Seeker)
	if !ok {
		return -1
	}
	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return -1
	}

	var frame bytes.Buffer
	mw := multipart.NewWriter(&frame)
	if err := mw.SetBoundary(boundary); err != nil {
		return -1
	}
	if _, err := writeUploadBody(mw, token, filename, strings.NewReader("")); err != nil {
		return -1
	}
	return int64(frame.Len()) + end - cur
}

func writeUploadBody(mw *multipart.Writer, token, filename string, file io.Reader) (int64, error) {
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return 0, fmt.Errorf("failed to create file part: %w", err)
	}
	n, err := io.Copy(part, file)
	if err != nil {
		return n, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.WriteField("token", token); err != nil {
		return n, fmt.Errorf("failed to write token field: %w", err)
	}
	if err := mw.WriteField("type", "3DP"); err != nil {
		return n, fmt.Errorf("failed to write type field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return n, fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return n, nil
}
