package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/courier-dispatch/internal/fanout"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/pricing"
	"github.com/example/courier-dispatch/internal/storage"
)

// Publisher is the slice of the fan-out hub the engine needs.
type Publisher interface {
	Publish(topic string, ev models.Event)
}

// Payments covers the hold/capture/cancel lifecycle of a payment
// authorization. All payment calls are best effort from the engine's view:
// a failure is logged, never rolled into the booking mutation.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

// Engine owns the booking and driver state machines. All mutations go
// through it; it keeps the two-row invariants (booking/driver linkage)
// inside the store's transactions and emits lifecycle events afterwards.
type Engine struct {
	Store    storage.Store
	Fanout   Publisher
	Payments Payments // optional
	Logger   *slog.Logger
	Timeout  time.Duration
	Currency string
}

func NewEngine(store storage.Store, hub Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		Store:    store,
		Fanout:   hub,
		Logger:   logger,
		Timeout:  3 * time.Second,
		Currency: "usd",
	}
}

// CreateBooking validates the request, prices it and persists a PENDING
// booking. The global new-booking notification is fire-and-forget: the
// created booking is the durable fact.
func (e *Engine) CreateBooking(ctx context.Context, requesterID string, pickup, dropoff models.Coord, class models.VehicleClass) (*models.Booking, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: missing requester id", models.ErrValidation)
	}
	dist, err := pricing.Distance(pickup, dropoff)
	if err != nil {
		return nil, err
	}
	price, err := pricing.Price(dist, class)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b := &models.Booking{
		ID:            uuid.NewString(),
		RequesterID:   requesterID,
		Pickup:        pickup,
		Dropoff:       dropoff,
		VehicleClass:  class,
		DistanceKm:    dist,
		PriceEstimate: price,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	sctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.Store.CreateBooking(sctx, b); err != nil {
		return nil, err
	}
	observability.BookingsCreated.Inc()

	e.Fanout.Publish(fanout.TopicGlobal, models.Event{Type: models.EventBookingCreated, Data: b})
	e.Logger.Info("booking created", "booking_id", b.ID, "requester_id", requesterID, "distance_km", dist, "price", price)
	return b, nil
}

// ClaimBooking lets a driver race for a PENDING booking. The store makes
// the claim atomic; exactly one concurrent claimant wins. Losers all see
// the same "not claimable" conflict so no race detail leaks outward.
func (e *Engine) ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	sctx, cancel := e.opCtx(ctx)
	defer cancel()

	b, err := e.Store.ClaimBooking(sctx, bookingID, driverID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.ClaimConflicts.Inc()
			// internal detail stays in the log, callers just get "not claimable"
			e.Logger.Info("claim lost", "booking_id", bookingID, "driver_id", driverID, "reason", err)
		}
		return nil, err
	}
	observability.ClaimsWon.Inc()
	e.Logger.Info("booking claimed", "booking_id", bookingID, "driver_id", driverID)

	summary := e.driverSummary(sctx, driverID)
	e.Fanout.Publish(fanout.BookingTopic(b.ID), models.Event{
		Type: models.EventBookingUpdated,
		Data: models.BookingUpdatedPayload{Booking: *b, Driver: summary},
	})
	e.Fanout.Publish(fanout.DriverTopic(driverID), models.Event{
		Type: models.EventDriverStatusUpdated,
		Data: models.DriverStatusPayload{DriverID: driverID, Status: models.DriverBusy},
	})

	e.holdPayment(ctx, b)
	return b, nil
}

// TransitionStatus advances a booking along the fixed lifecycle. Only the
// assigned driver may transition, and only to a legal successor (or to
// CANCELLED from any non-terminal state). Terminal transitions release
// the driver atomically with the booking update.
func (e *Engine) TransitionStatus(ctx context.Context, bookingID, driverID string, to models.BookingStatus) (*models.Booking, error) {
	sctx, cancel := e.opCtx(ctx)
	defer cancel()

	b, err := e.Store.GetBooking(sctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: illegal transition %s -> %s", models.ErrConflict, b.Status, to)
	}
	if b.DriverID == nil || *b.DriverID != driverID {
		return nil, fmt.Errorf("%w: booking is not assigned to this driver", models.ErrNotAuthorized)
	}

	updated, err := e.Store.UpdateBookingStatus(sctx, bookingID, b.Status, to)
	if err != nil {
		return nil, err
	}
	observability.Transitions.WithLabelValues(string(to)).Inc()
	e.Logger.Info("booking status changed", "booking_id", bookingID, "from", b.Status, "to", to)

	e.emitAfterTransition(sctx, ctx, updated, driverID, to)
	return updated, nil
}

// CancelBooking cancels from any non-terminal state. The original
// requester may always cancel; so may the assigned driver.
func (e *Engine) CancelBooking(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	sctx, cancel := e.opCtx(ctx)
	defer cancel()

	b, err := e.Store.GetBooking(sctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, fmt.Errorf("%w: booking already %s", models.ErrConflict, b.Status)
	}
	isRequester := actorID == b.RequesterID
	isAssignedDriver := b.DriverID != nil && *b.DriverID == actorID
	if !isRequester && !isAssignedDriver {
		return nil, fmt.Errorf("%w: only the requester or assigned driver may cancel", models.ErrNotAuthorized)
	}

	updated, err := e.Store.UpdateBookingStatus(sctx, bookingID, b.Status, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	observability.Transitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	e.Logger.Info("booking cancelled", "booking_id", bookingID, "actor_id", actorID, "from", b.Status)

	var driverID string
	if b.DriverID != nil {
		driverID = *b.DriverID
	}
	e.emitAfterTransition(sctx, ctx, updated, driverID, models.StatusCancelled)
	return updated, nil
}

// RegisterDriver creates the courier account for a user identity. One
// driver per user; capacity follows the vehicle class.
func (e *Engine) RegisterDriver(ctx context.Context, userID, name, phone string, class models.VehicleClass, plate string) (*models.Driver, error) {
	if userID == "" || name == "" {
		return nil, fmt.Errorf("%w: missing user id or name", models.ErrValidation)
	}
	if _, ok := models.ParseVehicleClass(string(class)); !ok {
		return nil, fmt.Errorf("%w: unknown vehicle class %q", models.ErrValidation, class)
	}

	sctx, cancel := e.opCtx(ctx)
	defer cancel()

	if _, err := e.Store.GetDriverByUser(sctx, userID); err == nil {
		return nil, fmt.Errorf("%w: driver already registered for user %s", models.ErrConflict, userID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	d := &models.Driver{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Phone:  phone,
		Vehicle: models.Vehicle{
			Type:     class,
			Plate:    plate,
			Capacity: pricing.CapacityFor(class),
		},
		Status:    models.DriverAvailable,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.Store.CreateDriver(sctx, d); err != nil {
		return nil, err
	}
	e.Logger.Info("driver registered", "driver_id", d.ID, "user_id", userID, "vehicle", class)
	return d, nil
}

func (e *Engine) emitAfterTransition(sctx, ctx context.Context, b *models.Booking, driverID string, to models.BookingStatus) {
	var summary *models.DriverSummary
	if driverID != "" {
		summary = e.driverSummary(sctx, driverID)
	}
	e.Fanout.Publish(fanout.BookingTopic(b.ID), models.Event{
		Type: models.EventBookingUpdated,
		Data: models.BookingUpdatedPayload{Booking: *b, Driver: summary},
	})
	if to.Terminal() && driverID != "" {
		e.Fanout.Publish(fanout.DriverTopic(driverID), models.Event{
			Type: models.EventDriverStatusUpdated,
			Data: models.DriverStatusPayload{DriverID: driverID, Status: models.DriverAvailable},
		})
	}
	switch to {
	case models.StatusCompleted:
		e.settlePayment(ctx, b, true)
	case models.StatusCancelled:
		e.settlePayment(ctx, b, false)
	}
}

func (e *Engine) driverSummary(ctx context.Context, driverID string) *models.DriverSummary {
	d, err := e.Store.GetDriver(ctx, driverID)
	if err != nil {
		e.Logger.Warn("driver summary lookup failed", "driver_id", driverID, "error", err)
		return nil
	}
	s := d.Summary()
	return &s
}

func (e *Engine) holdPayment(ctx context.Context, b *models.Booking) {
	if e.Payments == nil {
		return
	}
	amount := int64(math.Round(b.PriceEstimate * 100))
	ref, err := e.Payments.Hold(ctx, amount, e.Currency, b.RequesterID)
	if err != nil {
		e.Logger.Warn("payment hold failed", "booking_id", b.ID, "error", err)
		return
	}
	sctx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.Store.SetBookingPaymentRef(sctx, b.ID, ref); err != nil {
		e.Logger.Warn("payment ref not persisted", "booking_id", b.ID, "error", err)
	}
}

func (e *Engine) settlePayment(ctx context.Context, b *models.Booking, capture bool) {
	if e.Payments == nil || b.PaymentRef == "" {
		return
	}
	var err error
	if capture {
		err = e.Payments.Capture(ctx, b.PaymentRef)
	} else {
		err = e.Payments.Cancel(ctx, b.PaymentRef)
	}
	if err != nil {
		e.Logger.Warn("payment settlement failed", "booking_id", b.ID, "capture", capture, "error", err)
	}
}

func (e *Engine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Timeout)
}
