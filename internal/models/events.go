package models

// Event is the envelope pushed to fan-out subscribers. Type values keep
// the wire names existing clients already listen for.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	EventBookingCreated      = "newBooking"
	EventBookingUpdated      = "bookingUpdated"
	EventDriverStatusUpdated = "driverStatusUpdated"
	EventLocationUpdated     = "driverLocationUpdate"
)

type BookingUpdatedPayload struct {
	Booking Booking        `json:"booking"`
	Driver  *DriverSummary `json:"driver,omitempty"`
}

type DriverStatusPayload struct {
	DriverID string       `json:"driver_id"`
	Status   DriverStatus `json:"status"`
}

type LocationUpdatePayload struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}
