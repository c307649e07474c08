package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/courier-dispatch/internal/models"
)

func bookingRows(id, requester string, status models.BookingStatus, driverID *string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "requester_id", "pickup_lat", "pickup_lng", "dropoff_lat", "dropoff_lng",
		"vehicle_class", "distance_km", "price_estimate", "status", "driver_id", "payment_ref", "created_at", "updated_at"})
	var d any
	if driverID != nil {
		d = *driverID
	}
	now := time.Now()
	rows.AddRow(id, requester, 1.0, 2.0, 3.0, 4.0, string(models.VehicleCar), 10.0, 15.0, string(status), d, nil, now, now)
	return rows
}

func TestClaimBookingWinsRace(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM drivers WHERE id=\$1`).
		WithArgs("drv-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.DriverAvailable)))
	mock.ExpectExec(`UPDATE bookings SET status=\$1, driver_id=\$2`).
		WithArgs(string(models.StatusAccepted), "drv-1", sqlmock.AnyArg(), "bk-1", string(models.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE drivers SET status=\$1 WHERE id=\$2 AND status=\$3`).
		WithArgs(string(models.DriverBusy), "drv-1", string(models.DriverAvailable)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	drv := "drv-1"
	mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id=\$1`).
		WithArgs("bk-1").
		WillReturnRows(bookingRows("bk-1", "usr-1", models.StatusAccepted, &drv))
	mock.ExpectCommit()

	b, err := store.ClaimBooking(context.Background(), "bk-1", "drv-1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if b.Status != models.StatusAccepted || b.DriverID == nil || *b.DriverID != "drv-1" {
		t.Fatalf("unexpected booking after claim: %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimBookingLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM drivers WHERE id=\$1`).
		WithArgs("drv-2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.DriverAvailable)))
	// zero rows: another driver already flipped PENDING away
	mock.ExpectExec(`UPDATE bookings SET status=\$1, driver_id=\$2`).
		WithArgs(string(models.StatusAccepted), "drv-2", sqlmock.AnyArg(), "bk-1", string(models.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = store.ClaimBooking(context.Background(), "bk-1", "drv-2")
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimBookingDriverMissingAndBusy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM drivers WHERE id=\$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()
	if _, err := store.ClaimBooking(context.Background(), "bk-1", "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM drivers WHERE id=\$1`).
		WithArgs("busy").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.DriverBusy)))
	mock.ExpectRollback()
	if _, err := store.ClaimBooking(context.Background(), "bk-1", "busy"); !errors.Is(err, models.ErrDriverUnavailable) {
		t.Fatalf("expected driver unavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateBookingStatusTerminalReleasesDriver(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET status=\$1, updated_at=\$2 WHERE id=\$3 AND status=\$4`).
		WithArgs(string(models.StatusCompleted), sqlmock.AnyArg(), "bk-1", string(models.StatusInProgress)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE drivers SET status=\$1 WHERE id=\(SELECT driver_id FROM bookings WHERE id=\$2\)`).
		WithArgs(string(models.DriverAvailable), "bk-1", string(models.DriverBusy)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	drv := "drv-1"
	mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id=\$1`).
		WithArgs("bk-1").
		WillReturnRows(bookingRows("bk-1", "usr-1", models.StatusCompleted, &drv))
	mock.ExpectCommit()

	b, err := store.UpdateBookingStatus(context.Background(), "bk-1", models.StatusInProgress, models.StatusCompleted)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if b.Status != models.StatusCompleted {
		t.Fatalf("unexpected status %s", b.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateBookingStatusStaleConflict(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET status=\$1, updated_at=\$2 WHERE id=\$3 AND status=\$4`).
		WithArgs(string(models.StatusInProgress), sqlmock.AnyArg(), "bk-1", string(models.StatusArrivedAtPickup)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = store.UpdateBookingStatus(context.Background(), "bk-1", models.StatusArrivedAtPickup, models.StatusInProgress)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
