package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/snapproxy/internal/core"
)

type WebhookEvent string

const (
	EventPrinterStatusChanged WebhookEvent = "printer_status_changed"
)

type WebhookPayload struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type Endpoint struct {
	URL    string
	Secret string
}

type WebhookConfig struct {
	Endpoints   []Endpoint
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	endpoint Endpoint
	event    WebhookEvent
	payload  *WebhookPayload
	attempt  int
}

// statusError is a non-2xx reply from a webhook receiver.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

// WebhookSender delivers events to the configured endpoints from a fixed
// pool of workers. Enqueueing never blocks; a full queue drops the event.
type WebhookSender struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	log         *slog.Logger
	wg          sync.WaitGroup
}

func NewWebhookSender(config WebhookConfig, log *slog.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if log == nil {
		log = slog.Default()
	}

	return &WebhookSender{
		endpoints: config.Endpoints,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		log:         log.With("component", "webhook"),
	}
}

// Run starts the workers and blocks until ctx is done and they have exited.
func (s *WebhookSender) Run(ctx context.Context) error {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.wg.Wait()
	return ctx.Err()
}

func (s *WebhookSender) SendPrinterStatusChange(oldStatus, newStatus string, details *core.PrinterStatus) {
	s.enqueue(EventPrinterStatusChanged, &core.PrinterStatusChange{
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Details:   details,
		Timestamp: time.Now(),
	})
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	for _, ep := range s.endpoints {
		task := &webhookTask{
			endpoint: ep,
			event:    event,
			payload: &WebhookPayload{
				ID:        uuid.NewString(),
				Event:     string(event),
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.log.Warn("queue full, dropping webhook", "url", ep.URL, "event", event)
		}
	}
}

func (s *WebhookSender) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(ctx, task); err != nil {
				s.log.Error("failed to send webhook",
					"worker", id, "url", task.endpoint.URL, "event", task.event, "attempts", task.attempt, "error", err)
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(ctx context.Context, task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(ctx, task.endpoint, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			s.log.Warn("client error from webhook receiver, not retrying", "url", task.endpoint.URL, "error", err)
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.log.Debug("retrying webhook", "attempt", task.attempt, "of", s.retryCount, "in", backoff, "error", err)

			select {
			case <-ctx.Done():
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(ctx context.Context, ep Endpoint, payload *WebhookPayload) error {
	payloadBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	payload.Signature = ""
	if ep.Secret != "" {
		payload.Signature = signPayload(payloadBytes, ep.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	req.Header.Set("X-Webhook-ID", payload.ID)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
