package core

import (
	"context"
	"log/slog"
	"time"
)

const defaultPollInterval = 1 * time.Second

// KeepAlive polls the device and publishes merged snapshots. Device
// failures are logged and never end the loop; a failed status fetch leaves
// the previous snapshot in place.
type KeepAlive struct {
	fetcher     StatusFetcher
	token       string
	broadcaster *Broadcaster
	notifier    StatusNotifier
	interval    time.Duration
	log         *slog.Logger
}

func NewKeepAlive(fetcher StatusFetcher, token string, broadcaster *Broadcaster, interval time.Duration, log *slog.Logger) *KeepAlive {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &KeepAlive{
		fetcher:     fetcher,
		token:       token,
		broadcaster: broadcaster,
		interval:    interval,
		log:         log.With("component", "keepalive"),
	}
}

// SetNotifier registers a receiver for machine status transitions.
func (k *KeepAlive) SetNotifier(n StatusNotifier) {
	k.notifier = n
}

// Run polls until ctx is cancelled.
func (k *KeepAlive) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		k.Tick(ctx)
		timer.Reset(k.interval)
	}
}

// Tick runs a single poll iteration and reports whether a snapshot was
// published.
func (k *KeepAlive) Tick(ctx context.Context) bool {
	enclosure, err := k.fetcher.FetchEnclosure(ctx, k.token)
	if err != nil {
		k.log.Error("error getting enclosure status", "error", err)
		enclosure = EnclosureStatus{}
	}

	status, err := k.fetcher.FetchStatus(ctx, k.token)
	if err != nil {
		k.log.Error("keepalive failed", "error", err)
		return false
	}
	status.Enclosure = enclosure

	previous := k.broadcaster.Latest()
	firstPublish := k.broadcaster.Version() == 0
	k.broadcaster.Publish(status)
	k.log.Debug("updated printer status", "status", status.Status, "progress", status.Progress)

	if k.notifier != nil && !firstPublish && previous.Status != status.Status {
		k.log.Info("printer status changed", "old", previous.Status, "new", status.Status)
		k.notifier.SendPrinterStatusChange(previous.Status, status.Status, &status)
	}

	return true
}
