package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/courier-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing handle; used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const bookingColumns = `id, requester_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, vehicle_class, distance_km, price_estimate, status, driver_id, payment_ref, created_at, updated_at`

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, requester_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, vehicle_class, distance_km, price_estimate, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		b.ID, b.RequesterID, b.Pickup.Lat, b.Pickup.Lng, b.Dropoff.Lat, b.Dropoff.Lng, b.VehicleClass, b.DistanceKm, b.PriceEstimate, b.Status, b.CreatedAt, b.UpdatedAt)
	return wrapErr(err)
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanBooking(row)
}

func (p *PostgresStore) ListBookingsByRequester(ctx context.Context, requesterID string, status *models.BookingStatus) ([]models.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE requester_id=$1`
	args := []any{requesterID}
	if status != nil {
		q += ` AND status=$2`
		args = append(args, *status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ClaimBooking performs the claim as a single transaction: a conditional
// compare-and-swap on the booking status plus the driver AVAILABLE->BUSY
// flip. Zero rows on either update aborts the whole claim.
func (p *PostgresStore) ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer tx.Rollback()

	var status models.DriverStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM drivers WHERE id=$1`, driverID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, driverID)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	if status != models.DriverAvailable {
		return nil, fmt.Errorf("%w: driver %s is %s", models.ErrDriverUnavailable, driverID, status)
	}

	res, err := tx.ExecContext(ctx, `UPDATE bookings SET status=$1, driver_id=$2, updated_at=$3 WHERE id=$4 AND status=$5`,
		models.StatusAccepted, driverID, time.Now().UTC(), bookingID, models.StatusPending)
	if err != nil {
		return nil, wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: booking not claimable", models.ErrConflict)
	}

	res, err = tx.ExecContext(ctx, `UPDATE drivers SET status=$1 WHERE id=$2 AND status=$3`,
		models.DriverBusy, driverID, models.DriverAvailable)
	if err != nil {
		return nil, wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// lost a concurrent race on the driver row
		return nil, fmt.Errorf("%w: driver %s no longer available", models.ErrDriverUnavailable, driverID)
	}

	b, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, bookingID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err)
	}
	return b, nil
}

func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, bookingID string, from, to models.BookingStatus) (*models.Booking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE bookings SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		to, time.Now().UTC(), bookingID, from)
	if err != nil {
		return nil, wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: booking not in %s", models.ErrConflict, from)
	}

	if to.Terminal() {
		// release the assigned driver, if any, in the same transaction
		_, err = tx.ExecContext(ctx, `UPDATE drivers SET status=$1 WHERE id=(SELECT driver_id FROM bookings WHERE id=$2) AND status=$3`,
			models.DriverAvailable, bookingID, models.DriverBusy)
		if err != nil {
			return nil, wrapErr(err)
		}
	}

	b, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, bookingID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err)
	}
	return b, nil
}

func (p *PostgresStore) SetBookingPaymentRef(ctx context.Context, bookingID, ref string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE bookings SET payment_ref=$1 WHERE id=$2`, ref, bookingID)
	return wrapErr(err)
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(id, user_id, name, phone, vehicle_type, plate, capacity, status, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.UserID, d.Name, d.Phone, d.Vehicle.Type, d.Vehicle.Plate, d.Vehicle.Capacity, d.Status, d.CreatedAt)
	return wrapErr(err)
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	return p.getDriver(ctx, `SELECT id, user_id, name, phone, vehicle_type, plate, capacity, status, created_at FROM drivers WHERE id=$1`, id)
}

func (p *PostgresStore) GetDriverByUser(ctx context.Context, userID string) (*models.Driver, error) {
	return p.getDriver(ctx, `SELECT id, user_id, name, phone, vehicle_type, plate, capacity, status, created_at FROM drivers WHERE user_id=$1`, userID)
}

func (p *PostgresStore) getDriver(ctx context.Context, query, arg string) (*models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, query, arg).Scan(&d.ID, &d.UserID, &d.Name, &d.Phone, &d.Vehicle.Type, &d.Vehicle.Plate, &d.Vehicle.Capacity, &d.Status, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver", models.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &d, nil
}

func (p *PostgresStore) AppendLocationSample(ctx context.Context, s *models.LocationSample) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_locations(driver_id, booking_id, lat, lng, recorded_at) VALUES($1,NULLIF($2,''),$3,$4,$5)`,
		s.DriverID, s.BookingID, s.Lat, s.Lng, s.RecordedAt)
	return wrapErr(err)
}

func (p *PostgresStore) AppendTrackingUpdate(ctx context.Context, u *models.TrackingUpdate) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO tracking_updates(booking_id, lat, lng, recorded_at) VALUES($1,$2,$3,$4)`,
		u.BookingID, u.Lat, u.Lng, u.RecordedAt)
	return wrapErr(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var driverID sql.NullString
	var paymentRef sql.NullString
	err := row.Scan(&b.ID, &b.RequesterID, &b.Pickup.Lat, &b.Pickup.Lng, &b.Dropoff.Lat, &b.Dropoff.Lng,
		&b.VehicleClass, &b.DistanceKm, &b.PriceEstimate, &b.Status, &driverID, &paymentRef, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: booking", models.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	if driverID.Valid {
		b.DriverID = &driverID.String
	}
	b.PaymentRef = paymentRef.String
	return &b, nil
}
