package relay

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/courier-dispatch/internal/fanout"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []struct {
		Topic string
		Event models.Event
	}
}

func (p *recordingPublisher) Publish(topic string, ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, struct {
		Topic string
		Event models.Event
	}{topic, ev})
}

func (p *recordingPublisher) count(topic, eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Topic == topic && e.Event.Type == eventType {
			n++
		}
	}
	return n
}

func newTestRelay(t *testing.T) (*Relay, *storage.MemoryStore, *recordingPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheWithClient(client, 5*time.Minute)
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	return New(cache, store, pub, slog.Default(), 5*time.Minute), store, pub, mr
}

func TestTrackingIsUnsampledButDurableTrailIsGated(t *testing.T) {
	r, store, pub, _ := newTestRelay(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rep := models.LocationReport{DriverID: "drv-1", BookingID: "bk-1", Lat: 52.5 + float64(i)/1000, Lng: 13.4}
		require.NoError(t, r.ReportLocation(ctx, rep))
	}

	// every report produced a live event and a tracking row
	require.Equal(t, 10, pub.count(fanout.BookingTopic("bk-1"), models.EventLocationUpdated))
	require.Equal(t, 10, store.TrackingCount("bk-1"))
	// the durable position trail saw exactly one sample inside the window
	require.Equal(t, 1, store.SampleCount())
}

func TestSamplingGateReopensAfterInterval(t *testing.T) {
	r, store, _, mr := newTestRelay(t)
	ctx := context.Background()

	rep := models.LocationReport{DriverID: "drv-1", Lat: 1, Lng: 2}
	require.NoError(t, r.ReportLocation(ctx, rep))
	require.NoError(t, r.ReportLocation(ctx, rep))
	require.Equal(t, 1, store.SampleCount())

	mr.FastForward(5*time.Minute + time.Second)
	require.NoError(t, r.ReportLocation(ctx, rep))
	require.Equal(t, 2, store.SampleCount())
}

func TestCurrentLocationUnknownVsZero(t *testing.T) {
	r, _, _, mr := newTestRelay(t)
	ctx := context.Background()

	_, ok, err := r.CurrentLocation(ctx, "never-reported")
	require.NoError(t, err)
	require.False(t, ok, "missing driver must be unknown, not (0,0)")

	// (0,0) is a real coordinate and must round-trip as known
	require.NoError(t, r.ReportLocation(ctx, models.LocationReport{DriverID: "drv-0", Lat: 0, Lng: 0}))
	c, ok, err := r.CurrentLocation(ctx, "drv-0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.Coord{Lat: 0, Lng: 0}, c)

	// expiry returns the driver to unknown
	mr.FastForward(6 * time.Minute)
	_, ok, err = r.CurrentLocation(ctx, "drv-0")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReportLocationValidation(t *testing.T) {
	r, _, _, _ := newTestRelay(t)
	ctx := context.Background()

	err := r.ReportLocation(ctx, models.LocationReport{DriverID: "", Lat: 1, Lng: 2})
	require.ErrorIs(t, err, models.ErrValidation)

	err = r.ReportLocation(ctx, models.LocationReport{DriverID: "drv-1", Lat: 95, Lng: 2})
	require.ErrorIs(t, err, models.ErrValidation)
}
