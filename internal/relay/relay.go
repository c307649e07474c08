package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/courier-dispatch/internal/fanout"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/pricing"
	"github.com/example/courier-dispatch/internal/storage"
)

// Publisher is the slice of the fan-out hub the relay needs.
type Publisher interface {
	Publish(topic string, ev models.Event)
}

// Relay ingests driver position reports: it refreshes the ephemeral
// current-position entry, persists a time-gated durable sample, and for
// reports tied to an active booking appends an (unsampled) tracking row
// and pushes a live update into the booking room.
type Relay struct {
	Cache          Cache
	Store          storage.Store
	Fanout         Publisher
	Logger         *slog.Logger
	SampleInterval time.Duration
	Timeout        time.Duration
}

func New(cache Cache, store storage.Store, hub Publisher, logger *slog.Logger, sampleInterval time.Duration) *Relay {
	if sampleInterval <= 0 {
		sampleInterval = 5 * time.Minute
	}
	return &Relay{
		Cache:          cache,
		Store:          store,
		Fanout:         hub,
		Logger:         logger,
		SampleInterval: sampleInterval,
		Timeout:        2 * time.Second,
	}
}

func (r *Relay) ReportLocation(ctx context.Context, rep models.LocationReport) error {
	if rep.DriverID == "" {
		return fmt.Errorf("%w: missing driver id", models.ErrValidation)
	}
	if err := pricing.Validate(models.Coord{Lat: rep.Lat, Lng: rep.Lng}); err != nil {
		return err
	}
	observability.LocationReports.Inc()
	now := time.Now().UTC()

	cctx, cancel := r.opCtx(ctx)
	defer cancel()

	// current position is best effort: a cache outage degrades freshness,
	// not correctness
	if err := r.Cache.SetCurrent(cctx, rep.DriverID, models.Coord{Lat: rep.Lat, Lng: rep.Lng}); err != nil {
		observability.CacheErrors.Inc()
		r.Logger.Warn("location cache write failed", "driver_id", rep.DriverID, "error", err)
	} else if sample, err := r.Cache.TryMarkSampled(cctx, rep.DriverID, r.SampleInterval); err != nil {
		observability.CacheErrors.Inc()
		r.Logger.Warn("sample gate check failed", "driver_id", rep.DriverID, "error", err)
	} else if sample {
		s := &models.LocationSample{DriverID: rep.DriverID, BookingID: rep.BookingID, Lat: rep.Lat, Lng: rep.Lng, RecordedAt: now}
		if err := r.Store.AppendLocationSample(cctx, s); err != nil {
			r.Logger.Warn("durable sample write failed", "driver_id", rep.DriverID, "error", err)
		} else {
			observability.DurableSamples.Inc()
		}
	}

	if rep.BookingID == "" {
		return nil
	}

	// trip trail is durable state: every report counts, and a write
	// failure is the caller's problem
	u := &models.TrackingUpdate{BookingID: rep.BookingID, Lat: rep.Lat, Lng: rep.Lng, RecordedAt: now}
	if err := r.Store.AppendTrackingUpdate(cctx, u); err != nil {
		return err
	}
	observability.TrackingUpdates.Inc()

	r.Fanout.Publish(fanout.BookingTopic(rep.BookingID), models.Event{
		Type: models.EventLocationUpdated,
		Data: models.LocationUpdatePayload{DriverID: rep.DriverID, Lat: rep.Lat, Lng: rep.Lng},
	})
	return nil
}

// CurrentLocation returns the driver's cached position. ok is false when
// no fresh report exists; callers must not read (0,0) as a position.
func (r *Relay) CurrentLocation(ctx context.Context, driverID string) (models.Coord, bool, error) {
	cctx, cancel := r.opCtx(ctx)
	defer cancel()
	c, ok, err := r.Cache.Current(cctx, driverID)
	if err != nil {
		observability.CacheErrors.Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Coord{}, false, fmt.Errorf("%w: %v", models.ErrDependencyTimeout, err)
		}
		return models.Coord{}, false, err
	}
	return c, ok, nil
}

func (r *Relay) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}
