package pricing

import (
	"fmt"
	"math"

	"github.com/example/courier-dispatch/internal/models"
)

const (
	earthRadiusKm = 6371.0
	basePrice     = 5.0
)

// perKmRate is the vehicle-class price tier per kilometer.
var perKmRate = map[models.VehicleClass]float64{
	models.VehicleBike:  0.5,
	models.VehicleCar:   1.0,
	models.VehicleTruck: 1.5,
}

// Distance returns the great-circle (haversine) distance between two
// coordinates in kilometers, rounded to 2 decimal places.
//
// Coordinates outside lat [-90,90] / lng [-180,180] are rejected with
// ErrValidation rather than clamped; clamping would silently corrupt the
// distance and every price derived from it.
func Distance(a, b models.Coord) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return round2(earthRadiusKm * c), nil
}

// Price is base + distance * per-km rate, with composing long-haul
// discounts (×0.90 over 100 km, additionally ×0.95 over 500 km), rounded
// to 2 decimal places. Pure: no side effects, deterministic.
func Price(distanceKm float64, class models.VehicleClass) (float64, error) {
	rate, ok := perKmRate[class]
	if !ok {
		return 0, fmt.Errorf("%w: unknown vehicle class %q", models.ErrValidation, class)
	}
	if distanceKm < 0 {
		return 0, fmt.Errorf("%w: negative distance", models.ErrValidation)
	}
	price := basePrice + distanceKm*rate
	if distanceKm > 100 {
		price *= 0.90
	}
	if distanceKm > 500 {
		price *= 0.95
	}
	return round2(price), nil
}

// CapacityFor maps a vehicle class to its passenger/cargo capacity.
func CapacityFor(class models.VehicleClass) int {
	switch class {
	case models.VehicleBike:
		return 1
	case models.VehicleCar:
		return 4
	default:
		return 8
	}
}

// Validate rejects coordinates with out-of-range magnitudes.
func Validate(c models.Coord) error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", models.ErrValidation, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", models.ErrValidation, c.Lng)
	}
	return nil
}

func toRad(deg float64) float64 { return deg * math.Pi / 180.0 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
