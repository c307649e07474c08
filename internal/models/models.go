package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type VehicleClass string

const (
	VehicleBike  VehicleClass = "BIKE"
	VehicleCar   VehicleClass = "CAR"
	VehicleTruck VehicleClass = "TRUCK"
)

func ParseVehicleClass(s string) (VehicleClass, bool) {
	switch VehicleClass(s) {
	case VehicleBike, VehicleCar, VehicleTruck:
		return VehicleClass(s), true
	}
	return "", false
}

type DriverStatus string

const (
	DriverAvailable DriverStatus = "AVAILABLE"
	DriverBusy      DriverStatus = "BUSY"
)

// Booking is a single transport request tracked through its lifecycle.
// DriverID is nil until a driver claims the booking and stays set through
// the terminal states for billing/audit.
type Booking struct {
	ID            string        `json:"id"`
	RequesterID   string        `json:"requester_id"`
	Pickup        Coord         `json:"pickup"`
	Dropoff       Coord         `json:"dropoff"`
	VehicleClass  VehicleClass  `json:"vehicle_class"`
	DistanceKm    float64       `json:"distance_km"`
	PriceEstimate float64       `json:"price_estimate"`
	Status        BookingStatus `json:"status"`
	DriverID      *string       `json:"driver_id,omitempty"`
	PaymentRef    string        `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Vehicle struct {
	Type     VehicleClass `json:"type"`
	Plate    string       `json:"plate"`
	Capacity int          `json:"capacity"`
}

// Driver is a courier account, linked 1:1 to a user identity.
type Driver struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Phone     string       `json:"phone"`
	Vehicle   Vehicle      `json:"vehicle"`
	Status    DriverStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// DriverSummary is the driver view shared with booking observers.
// Deliberately excludes contact details.
type DriverSummary struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	VehicleType VehicleClass `json:"vehicle_type"`
	Plate       string       `json:"plate"`
}

func (d *Driver) Summary() DriverSummary {
	return DriverSummary{ID: d.ID, Name: d.Name, VehicleType: d.Vehicle.Type, Plate: d.Vehicle.Plate}
}

// LocationReport is one inbound position update from a driver.
// BookingID is empty when the driver is not on an active trip.
type LocationReport struct {
	DriverID  string  `json:"driver_id"`
	BookingID string  `json:"booking_id,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// LocationSample is one durable, down-sampled position record.
type LocationSample struct {
	DriverID   string    `json:"driver_id"`
	BookingID  string    `json:"booking_id,omitempty"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TrackingUpdate is one durable trip-trail record. Unlike LocationSample
// every report for an active booking produces one.
type TrackingUpdate struct {
	BookingID  string    `json:"booking_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}
