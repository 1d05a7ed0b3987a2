package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/orrn/snapproxy/internal/core"
	"github.com/orrn/snapproxy/internal/snapmaker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

type deviceCall struct {
	op       string
	token    string
	command  snapmaker.Command
	field    snapmaker.EnclosureField
	value    uint8
	filename string
	body     []byte
	at       time.Time
}

type fakeDevice struct {
	mu         sync.Mutex
	calls      []deviceCall
	controlErr error
	enclErr    error
	uploadErr  error
}

func (d *fakeDevice) record(call deviceCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call.at = time.Now()
	d.calls = append(d.calls, call)
}

func (d *fakeDevice) Calls() []deviceCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deviceCall(nil), d.calls...)
}

func (d *fakeDevice) SendControl(ctx context.Context, token string, cmd snapmaker.Command) error {
	d.record(deviceCall{op: "control", token: token, command: cmd})
	return d.controlErr
}

func (d *fakeDevice) SetEnclosure(ctx context.Context, token string, field snapmaker.EnclosureField, value uint8) error {
	d.record(deviceCall{op: "enclosure", token: token, field: field, value: value})
	return d.enclErr
}

func (d *fakeDevice) UploadAndPrepare(ctx context.Context, token, filename string, file io.Reader) error {
	body, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	d.record(deviceCall{op: "upload", token: token, filename: filename, body: body})
	return d.uploadErr
}

var errDevice = errors.New("device said no")

func newTestRouter(t *testing.T, device Device, status *core.Broadcaster, delay time.Duration) *gin.Engine {
	t.Helper()
	router := gin.New()
	tmpl, err := LoadTemplates()
	require.NoError(t, err)
	router.SetHTMLTemplate(tmpl)

	RegisterWebUIRoutes(router, NewWebUIHandler(status))
	RegisterHealthRoutes(router, NewHealthHandler(status, time.Second))
	RegisterStreamRoutes(router, NewStreamHandler(status, quiet))
	RegisterPrinterRoutes(router, NewPrinterHandler(device, "tok", PrinterHandlerConfig{PrintStartDelay: delay}, quiet))
	return router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type multipartField struct {
	name     string
	filename string
	noName   bool
	content  string
}

func multipartRequest(t *testing.T, url string, fields ...multipartField) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		var (
			part io.Writer
			err  error
		)
		switch {
		case f.filename != "":
			part, err = mw.CreateFormFile(f.name, f.filename)
		case f.noName:
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", `form-data; name="`+f.name+`"; filename=""`)
			h.Set("Content-Type", "application/octet-stream")
			part, err = mw.CreatePart(h)
		default:
			part, err = mw.CreateFormField(f.name)
		}
		require.NoError(t, err)
		_, err = io.WriteString(part, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
