package order

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeNowUTC() time.Time { return time.Now().UTC() }

func newTestOrder() *Order {
	return New(Params{
		PortfolioID: uuid.New(),
		Symbol:      "BTCUSDT",
		Side:        SideBuy,
		Type:        TypeMarket,
		Quantity:    decimal.NewFromInt(1),
		Leverage:    10,
	})
}

func TestNew_StartsPendingAndEmitsPlaced(t *testing.T) {
	o := newTestOrder()
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, TIFGoodTilCancel, o.TimeInForce)

	evts := o.PullEvents()
	require.Len(t, evts, 1)
	_, ok := evts[0].(OrderPlacedEvent)
	assert.True(t, ok)

	assert.Empty(t, o.PullEvents())
}

func TestFill_TransitionsToFilledAndEmits(t *testing.T) {
	o := newTestOrder()
	o.PullEvents()

	err := o.Fill(decimal.NewFromFloat(65000.5), timeNowUTC())
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.Quantity.Equal(o.FilledQuantity))

	evts := o.PullEvents()
	require.Len(t, evts, 1)
	_, ok := evts[0].(OrderFilledEvent)
	assert.True(t, ok)
}

func TestPartialFill_StaysPartiallyFilledUntilComplete(t *testing.T) {
	o := New(Params{
		PortfolioID: uuid.New(),
		Symbol:      "ETHUSDT",
		Side:        SideBuy,
		Type:        TypeLimit,
		Quantity:    decimal.NewFromInt(10),
	})
	o.PullEvents()

	require.NoError(t, o.PartialFill(decimal.NewFromInt(4), decimal.NewFromInt(100), timeNowUTC()))
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(decimal.NewFromInt(4)))

	evts := o.PullEvents()
	require.Len(t, evts, 1)
	_, ok := evts[0].(OrderPartiallyFilledEvent)
	assert.True(t, ok)

	require.NoError(t, o.PartialFill(decimal.NewFromInt(6), decimal.NewFromInt(110), timeNowUTC()))
	assert.Equal(t, StatusFilled, o.Status)

	evts = o.PullEvents()
	require.Len(t, evts, 1)
	_, ok = evts[0].(OrderFilledEvent)
	assert.True(t, ok)
}

func TestCancel_IsIdempotentWhenAlreadyCancelled(t *testing.T) {
	o := newTestOrder()
	o.PullEvents()

	require.NoError(t, o.Cancel("operator request"))
	assert.Equal(t, StatusCancelled, o.Status)
	require.Len(t, o.PullEvents(), 1)

	// Second cancel is a no-op: no error, no new event.
	require.NoError(t, o.Cancel("operator request again"))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Empty(t, o.PullEvents())
}

func TestCancel_FailsOnFilledOrRejected(t *testing.T) {
	filled := newTestOrder()
	filled.PullEvents()
	require.NoError(t, filled.Fill(decimal.NewFromInt(100), timeNowUTC()))
	filled.PullEvents()
	assert.ErrorIs(t, filled.Cancel("too late"), ErrCannotCancelFilled)

	rejected := newTestOrder()
	rejected.PullEvents()
	require.NoError(t, rejected.Reject("insufficient margin"))
	rejected.PullEvents()
	assert.ErrorIs(t, rejected.Cancel("too late"), ErrCannotCancelRejected)
}

func TestFill_FailsOnCancelledOrRejected(t *testing.T) {
	cancelled := newTestOrder()
	cancelled.PullEvents()
	require.NoError(t, cancelled.Cancel("operator request"))
	cancelled.PullEvents()
	assert.ErrorIs(t, cancelled.Fill(decimal.NewFromInt(1), timeNowUTC()), ErrCannotFillCancelled)

	rejected := newTestOrder()
	rejected.PullEvents()
	require.NoError(t, rejected.Reject("bad symbol"))
	rejected.PullEvents()
	assert.ErrorIs(t, rejected.Fill(decimal.NewFromInt(1), timeNowUTC()), ErrCannotFillRejected)
}

func TestConfirmCancellation_RequiresPriorCancel(t *testing.T) {
	o := newTestOrder()
	o.PullEvents()

	assert.ErrorIs(t, o.ConfirmCancellation(timeNowUTC()), ErrConfirmRequiresCancelled)

	require.NoError(t, o.Cancel("operator request"))
	o.PullEvents()

	require.NoError(t, o.ConfirmCancellation(timeNowUTC()))
	assert.Equal(t, StatusCancelledConfirmed, o.Status)
	assert.True(t, o.Status.IsTerminal())

	evts := o.PullEvents()
	require.Len(t, evts, 1)
	_, ok := evts[0].(OrderFullyCancelledEvent)
	assert.True(t, ok)
}

func TestReject_OnlyFromPending(t *testing.T) {
	o := newTestOrder()
	o.PullEvents()
	require.NoError(t, o.Fill(decimal.NewFromInt(1), timeNowUTC()))
	o.PullEvents()

	assert.ErrorIs(t, o.Reject("late rejection"), ErrCannotRejectNonPending)
}

func TestIsActive_FalseForTerminalStatuses(t *testing.T) {
	o := newTestOrder()
	assert.True(t, o.IsActive())
	o.PullEvents()

	require.NoError(t, o.Fill(decimal.NewFromInt(1), timeNowUTC()))
	assert.False(t, o.IsActive())
}
