package position

import "errors"

var (
	// ErrInvalidQuantity is returned for a non-positive reduce quantity.
	ErrInvalidQuantity = errors.New("position: quantity must be positive")
	// ErrReduceExceedsQuantity is returned when a reduction exceeds the open quantity.
	ErrReduceExceedsQuantity = errors.New("position: reduce quantity exceeds open quantity")
)
