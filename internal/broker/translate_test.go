package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/tradingcore/internal/domain/order"
)

func TestTranslateStatus(t *testing.T) {
	cases := map[string]order.Status{
		"NEW":              order.StatusPending,
		"PARTIALLY_FILLED": order.StatusPartiallyFilled,
		"FILLED":           order.StatusFilled,
		"CANCELED":         order.StatusCancelled,
		"EXPIRED":          order.StatusCancelled,
		"REJECTED":         order.StatusRejected,
		"SOMETHING_ODD":    order.StatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, TranslateStatus(in), in)
	}
}
