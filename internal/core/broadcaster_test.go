package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDefaultBeforePublish(t *testing.T) {
	b := NewBroadcaster()

	assert.Equal(t, DefaultPrinterStatus(), b.Latest())
	assert.Zero(t, b.Version())
	assert.True(t, b.LastPublished().IsZero())
}

func TestBroadcasterLatestAfterPublish(t *testing.T) {
	b := NewBroadcaster()

	s := DefaultPrinterStatus()
	s.Status = "RUNNING"
	s.Enclosure = EnclosureStatus{LED: 10, Fan: 20}
	b.Publish(s)

	assert.Equal(t, s, b.Latest())
	assert.Equal(t, uint64(1), b.Version())
	assert.False(t, b.LastPublished().IsZero())
}

func TestBroadcasterReadersGetCopies(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(PrinterStatus{Status: "RUNNING"})

	got := b.Latest()
	got.Status = "MUTATED"

	assert.Equal(t, "RUNNING", b.Latest().Status)
}

func TestSubscriptionSeesCurrentThenNewer(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(PrinterStatus{Status: "IDLE", Progress: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := b.Subscribe()
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IDLE", first.Status)

	go b.Publish(PrinterStatus{Status: "RUNNING", Progress: 0.5})

	second, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", second.Status)
}

func TestSubscriptionBeforeFirstPublishSeesDefault(t *testing.T) {
	b := NewBroadcaster()

	got, err := b.Subscribe().Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPrinterStatus(), got)
}

func TestSubscriptionSkipsToLatest(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	_, err := sub.Next(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Publish(PrinterStatus{Progress: float64(i)})
	}

	got, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Progress)
}

func TestSubscriptionNextHonoursContext(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	_, err := sub.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Every snapshot a reader sees must be one that was published whole:
// Progress and Z are always written with the same value.
func TestBroadcasterConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	b := NewBroadcaster()
	const writes = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := b.Latest()
				if s.Progress != s.Z {
					t.Errorf("torn snapshot: progress=%v z=%v", s.Progress, s.Z)
					return
				}
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		b.Publish(PrinterStatus{Progress: float64(i), Z: float64(i)})
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, float64(writes), b.Latest().Progress)
}
