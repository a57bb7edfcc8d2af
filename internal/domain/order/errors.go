package order

import "errors"

var (
	// ErrCannotCancelFilled is returned when Cancel is called on a Filled order.
	ErrCannotCancelFilled = errors.New("order: cannot cancel a filled order")
	// ErrCannotCancelRejected is returned when Cancel is called on a Rejected order.
	ErrCannotCancelRejected = errors.New("order: cannot cancel a rejected order")
	// ErrOrderAlreadyFilled is returned when Fill/PartialFill is called on a Filled order.
	ErrOrderAlreadyFilled = errors.New("order: already filled")
	// ErrCannotFillCancelled is returned when Fill/PartialFill is called on a cancelled order.
	ErrCannotFillCancelled = errors.New("order: cannot fill a cancelled order")
	// ErrCannotFillRejected is returned when Fill/PartialFill is called on a rejected order.
	ErrCannotFillRejected = errors.New("order: cannot fill a rejected order")
	// ErrCannotRejectNonPending is returned when Reject is called outside Pending.
	ErrCannotRejectNonPending = errors.New("order: can only reject a pending order")
	// ErrConfirmRequiresCancelled is returned when ConfirmCancellation is called
	// on an order that is not currently Cancelled.
	ErrConfirmRequiresCancelled = errors.New("order: confirmation requires prior cancellation")
)
