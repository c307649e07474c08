package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// Store defines persistence for bookings, drivers and the durable
// location trail. Multi-row mutations (claim, terminal transition with
// driver release) are atomic: either both rows move or neither does.
type Store interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByRequester(ctx context.Context, requesterID string, status *models.BookingStatus) ([]models.Booking, error)

	// ClaimBooking atomically moves the booking PENDING->ACCEPTED with the
	// given driver and the driver AVAILABLE->BUSY. Exactly one concurrent
	// claim per booking succeeds; losers get ErrConflict. A missing driver
	// is ErrNotFound, a non-available one ErrDriverUnavailable.
	ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error)

	// UpdateBookingStatus is a conditional write: it applies only while the
	// booking still holds the from status, otherwise ErrConflict. When to is
	// terminal and a driver is assigned, the driver is released to
	// AVAILABLE in the same transaction.
	UpdateBookingStatus(ctx context.Context, bookingID string, from, to models.BookingStatus) (*models.Booking, error)

	SetBookingPaymentRef(ctx context.Context, bookingID, ref string) error

	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	GetDriverByUser(ctx context.Context, userID string) (*models.Driver, error)

	AppendLocationSample(ctx context.Context, s *models.LocationSample) error
	AppendTrackingUpdate(ctx context.Context, u *models.TrackingUpdate) error
}

// wrapErr keeps deadline failures distinguishable as retryable.
func wrapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrDependencyTimeout, err)
	}
	return err
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	drivers  map[string]*models.Driver
	byUser   map[string]string
	samples  []models.LocationSample
	tracking []models.TrackingUpdate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		drivers:  make(map[string]*models.Driver),
		byUser:   make(map[string]string),
	}
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBookingsByRequester(ctx context.Context, requesterID string, status *models.BookingStatus) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.RequesterID != requesterID {
			continue
		}
		if status != nil && b.Status != *status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, driverID)
	}
	if d.Status != models.DriverAvailable {
		return nil, fmt.Errorf("%w: driver %s is %s", models.ErrDriverUnavailable, driverID, d.Status)
	}
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: booking not claimable", models.ErrConflict)
	}
	b.Status = models.StatusAccepted
	id := driverID
	b.DriverID = &id
	b.UpdatedAt = time.Now().UTC()
	d.Status = models.DriverBusy
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBookingStatus(ctx context.Context, bookingID string, from, to models.BookingStatus) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	if b.Status != from {
		return nil, fmt.Errorf("%w: booking is %s, expected %s", models.ErrConflict, b.Status, from)
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	if to.Terminal() && b.DriverID != nil {
		if d, ok := m.drivers[*b.DriverID]; ok {
			d.Status = models.DriverAvailable
		}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) SetBookingPaymentRef(ctx context.Context, bookingID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	b.PaymentRef = ref
	return nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[d.UserID]; ok {
		return fmt.Errorf("%w: driver exists for user %s", models.ErrConflict, d.UserID)
	}
	cp := *d
	m.drivers[d.ID] = &cp
	m.byUser[d.UserID] = d.ID
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetDriverByUser(ctx context.Context, userID string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	if !ok {
		return nil, fmt.Errorf("%w: no driver for user %s", models.ErrNotFound, userID)
	}
	cp := *m.drivers[id]
	return &cp, nil
}

func (m *MemoryStore) AppendLocationSample(ctx context.Context, s *models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, *s)
	return nil
}

func (m *MemoryStore) AppendTrackingUpdate(ctx context.Context, u *models.TrackingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking = append(m.tracking, *u)
	return nil
}

// SampleCount and TrackingCount support tests asserting the sampling
// properties of the location relay.
func (m *MemoryStore) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func (m *MemoryStore) TrackingCount(bookingID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.tracking {
		if u.BookingID == bookingID {
			n++
		}
	}
	return n
}
