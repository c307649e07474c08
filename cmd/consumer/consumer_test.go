package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

type fakeReporter struct {
	calls    int
	failures int
	err      error
}

func (f *fakeReporter) ReportLocation(ctx context.Context, rep models.LocationReport) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestProcessWithRetryRecovers(t *testing.T) {
	f := &fakeReporter{failures: 2, err: errors.New("store unavailable")}
	rep := models.LocationReport{DriverID: "drv-1", Lat: 1, Lng: 2}

	if err := processWithRetry(context.Background(), f, rep, 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestProcessWithRetryGivesUp(t *testing.T) {
	f := &fakeReporter{failures: 10, err: errors.New("store unavailable")}
	rep := models.LocationReport{DriverID: "drv-1", Lat: 1, Lng: 2}

	if err := processWithRetry(context.Background(), f, rep, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestProcessWithRetryDoesNotRetryValidation(t *testing.T) {
	f := &fakeReporter{failures: 10, err: fmt.Errorf("%w: latitude out of range", models.ErrValidation)}
	rep := models.LocationReport{DriverID: "drv-1", Lat: 95, Lng: 2}

	err := processWithRetry(context.Background(), f, rep, 3, time.Millisecond)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("validation failure must not be retried, got %d attempts", f.calls)
	}
}
