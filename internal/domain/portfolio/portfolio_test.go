package portfolio

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPortfolio() *Portfolio {
	return New(uuid.New(), decimal.NewFromInt(10000))
}

func TestReserve_DeductsFromAvailableCash(t *testing.T) {
	p := newTestPortfolio()
	orderID := uuid.New()

	require.NoError(t, p.Reserve(orderID, decimal.NewFromInt(1000)))
	assert.True(t, p.AvailableCash.Equal(decimal.NewFromInt(9000)))
	assert.True(t, p.ReservedFor(orderID).Equal(decimal.NewFromInt(1000)))
}

func TestReserve_FailsWhenInsufficientFunds(t *testing.T) {
	p := newTestPortfolio()
	err := p.Reserve(uuid.New(), decimal.NewFromInt(20000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestReserve_FailsOnDuplicateOrder(t *testing.T) {
	p := newTestPortfolio()
	orderID := uuid.New()
	require.NoError(t, p.Reserve(orderID, decimal.NewFromInt(500)))
	assert.ErrorIs(t, p.Reserve(orderID, decimal.NewFromInt(500)), ErrReservationExists)
}

func TestRelease_ReturnsReservedCashAndIsIdempotent(t *testing.T) {
	p := newTestPortfolio()
	orderID := uuid.New()
	require.NoError(t, p.Reserve(orderID, decimal.NewFromInt(1000)))

	p.Release(orderID)
	assert.True(t, p.AvailableCash.Equal(decimal.NewFromInt(10000)))
	assert.True(t, p.ReservedFor(orderID).IsZero())

	// Releasing again is a no-op, not an error.
	assert.NotPanics(t, func() { p.Release(orderID) })
	assert.True(t, p.AvailableCash.Equal(decimal.NewFromInt(10000)))
}

func TestRelease_DoesNotAffectOtherOrdersReservations(t *testing.T) {
	p := newTestPortfolio()
	orderA, orderB := uuid.New(), uuid.New()
	require.NoError(t, p.Reserve(orderA, decimal.NewFromInt(1000)))
	require.NoError(t, p.Reserve(orderB, decimal.NewFromInt(2000)))

	p.Release(orderA)

	assert.True(t, p.ReservedFor(orderA).IsZero())
	assert.True(t, p.ReservedFor(orderB).Equal(decimal.NewFromInt(2000)))
	assert.True(t, p.TotalReserved().Equal(decimal.NewFromInt(2000)))
}

func TestCompleteFill_PartiallyReleasesProportionalReservation(t *testing.T) {
	p := newTestPortfolio()
	orderID := uuid.New()
	require.NoError(t, p.Reserve(orderID, decimal.NewFromInt(1000)))

	// 4 of 10 units fill at the reservation's own price of 100: the released
	// share of the reservation exactly covers the cost of this fill.
	require.NoError(t, p.CompleteFill(orderID, decimal.NewFromFloat(0.4), decimal.NewFromInt(4), decimal.NewFromInt(100)))
	assert.True(t, p.ReservedFor(orderID).Equal(decimal.NewFromInt(600)))
	assert.True(t, p.AvailableCash.Equal(decimal.NewFromInt(9000)))

	require.NoError(t, p.CompleteFill(orderID, decimal.NewFromInt(1), decimal.NewFromInt(6), decimal.NewFromInt(100)))
	assert.True(t, p.ReservedFor(orderID).IsZero())
	// The full 1000 notional has been spent, leaving cash exactly where the
	// original reservation held it — the trade cost what it was reserved for.
	assert.True(t, p.AvailableCash.Equal(decimal.NewFromInt(9000)))
}

func TestCompleteFill_FailsWithoutReservation(t *testing.T) {
	p := newTestPortfolio()
	assert.ErrorIs(t, p.CompleteFill(uuid.New(), decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.NewFromInt(100)), ErrNoSuchReservation)
}

func TestCompleteFill_FailsWhenFillCostExceedsReleasedAndAvailable(t *testing.T) {
	p := newTestPortfolio()
	orderID := uuid.New()
	require.NoError(t, p.Reserve(orderID, decimal.NewFromInt(100)))
	other := uuid.New()
	require.NoError(t, p.Reserve(other, decimal.NewFromInt(9900)))

	err := p.CompleteFill(orderID, decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.NewFromInt(500))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, p.ReservedFor(orderID).IsZero())
	assert.True(t, p.ReservedFor(other).Equal(decimal.NewFromInt(9900)))
}

func TestLinkPosition_RoundTrip(t *testing.T) {
	p := newTestPortfolio()
	posID := uuid.New()
	p.LinkPosition("BTCUSDT", "long", posID)

	got, ok := p.PositionFor("BTCUSDT", "long")
	require.True(t, ok)
	assert.Equal(t, posID, got)

	p.UnlinkPosition("BTCUSDT", "long")
	_, ok = p.PositionFor("BTCUSDT", "long")
	assert.False(t, ok)
}

func TestApplyRealizedPnL_AdjustsCashAndEquity(t *testing.T) {
	p := newTestPortfolio()
	p.ApplyRealizedPnL(decimal.NewFromInt(-250))
	assert.True(t, p.AvailableCash.Equal(decimal.NewFromInt(9750)))
	assert.True(t, p.TotalEquity.Equal(decimal.NewFromInt(9750)))
}
