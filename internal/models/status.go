package models

type BookingStatus string

const (
	StatusPending         BookingStatus = "PENDING"
	StatusAccepted        BookingStatus = "ACCEPTED"
	StatusEnRouteToPickup BookingStatus = "EN_ROUTE_TO_PICKUP"
	StatusArrivedAtPickup BookingStatus = "ARRIVED_AT_PICKUP"
	StatusInProgress      BookingStatus = "IN_PROGRESS"
	StatusCompleted       BookingStatus = "COMPLETED"
	StatusCancelled       BookingStatus = "CANCELLED"
)

// successor is the single legal forward step from each non-terminal status.
// CANCELLED is handled separately: reachable from any non-terminal status.
var successor = map[BookingStatus]BookingStatus{
	StatusPending:         StatusAccepted,
	StatusAccepted:        StatusEnRouteToPickup,
	StatusEnRouteToPickup: StatusArrivedAtPickup,
	StatusArrivedAtPickup: StatusInProgress,
	StatusInProgress:      StatusCompleted,
}

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case StatusPending, StatusAccepted, StatusEnRouteToPickup,
		StatusArrivedAtPickup, StatusInProgress, StatusCompleted, StatusCancelled:
		return BookingStatus(s), true
	}
	return "", false
}

func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal step of
// the booking state machine. Re-applying the current status is not legal,
// so duplicate client retries surface as conflicts instead of repeating
// side effects.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return successor[s] == next
}
