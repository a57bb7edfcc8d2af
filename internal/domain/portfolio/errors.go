package portfolio

import "errors"

var (
	// ErrInsufficientFunds is returned when a reservation would exceed available cash.
	ErrInsufficientFunds = errors.New("portfolio: insufficient available cash")
	// ErrInvalidAmount is returned for a non-positive reservation or release amount.
	ErrInvalidAmount = errors.New("portfolio: amount must be positive")
	// ErrReservationExists is returned when reserving against an order id that
	// already holds a reservation.
	ErrReservationExists = errors.New("portfolio: order already holds a reservation")
	// ErrNoSuchReservation is returned when completing a fill for an order id
	// with no outstanding reservation.
	ErrNoSuchReservation = errors.New("portfolio: no reservation for order")
)
