package pricing

import (
	"errors"
	"testing"

	"github.com/example/courier-dispatch/internal/models"
)

func TestDistanceSamePointIsZero(t *testing.T) {
	for _, p := range []models.Coord{{Lat: 0, Lng: 0}, {Lat: 52.52, Lng: 13.405}, {Lat: -33.87, Lng: 151.21}} {
		d, err := Distance(p, p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d != 0 {
			t.Fatalf("expected 0, got %f", d)
		}
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// Berlin -> Hamburg, roughly 255 km.
	d, err := Distance(models.Coord{Lat: 52.52, Lng: 13.405}, models.Coord{Lat: 53.551, Lng: 9.993})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d < 250 || d > 260 {
		t.Fatalf("expected ~255km, got %f", d)
	}
}

func TestDistanceRejectsInvalidCoords(t *testing.T) {
	bad := []models.Coord{{Lat: 91, Lng: 0}, {Lat: -90.1, Lng: 0}, {Lat: 0, Lng: 181}, {Lat: 0, Lng: -180.5}}
	for _, c := range bad {
		if _, err := Distance(c, models.Coord{}); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("coord %+v: expected validation error, got %v", c, err)
		}
	}
}

func TestPriceTiersAndDiscounts(t *testing.T) {
	cases := []struct {
		km    float64
		class models.VehicleClass
		want  float64
	}{
		{10, models.VehicleBike, 10.00},
		{10, models.VehicleCar, 15.00},
		{10, models.VehicleTruck, 20.00},
		// >100km: single 10% discount. (5 + 120) * 0.9
		{120, models.VehicleCar, 112.50},
		// >500km: both discounts compose. (5 + 600) * 0.9 * 0.95
		{600, models.VehicleCar, 517.28},
	}
	for _, c := range cases {
		got, err := Price(c.km, c.class)
		if err != nil {
			t.Fatalf("Price(%f,%s): %v", c.km, c.class, err)
		}
		if got != c.want {
			t.Fatalf("Price(%f,%s)=%f, want %f", c.km, c.class, got, c.want)
		}
	}
}

func TestPriceUnknownClass(t *testing.T) {
	if _, err := Price(10, models.VehicleClass("SCOOTER")); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCapacityFor(t *testing.T) {
	if CapacityFor(models.VehicleBike) != 1 || CapacityFor(models.VehicleCar) != 4 || CapacityFor(models.VehicleTruck) != 8 {
		t.Fatal("unexpected capacity mapping")
	}
}
