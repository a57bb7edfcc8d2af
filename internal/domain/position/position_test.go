package position

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SetsInitialState(t *testing.T) {
	p := Open(uuid.New(), "BTCUSDT", SideLong, decimal.NewFromInt(1), decimal.NewFromInt(60000), decimal.NewFromInt(6000), 10)
	assert.True(t, p.Open)
	assert.True(t, p.MarkPrice.Equal(decimal.NewFromInt(60000)))
	// Long 10x: liquidation ~= entry * 0.9
	assert.True(t, p.LiquidationPrice.Equal(decimal.NewFromInt(54000)))
}

func TestApplyMark_ComputesUnrealizedPnLForLong(t *testing.T) {
	p := Open(uuid.New(), "BTCUSDT", SideLong, decimal.NewFromInt(2), decimal.NewFromInt(100), decimal.NewFromInt(20), 10)
	p.ApplyMark(decimal.NewFromInt(110))
	assert.True(t, p.UnrealizedPnL.Equal(decimal.NewFromInt(20)))
}

func TestApplyMark_ComputesUnrealizedPnLForShort(t *testing.T) {
	p := Open(uuid.New(), "BTCUSDT", SideShort, decimal.NewFromInt(2), decimal.NewFromInt(100), decimal.NewFromInt(20), 10)
	p.ApplyMark(decimal.NewFromInt(90))
	assert.True(t, p.UnrealizedPnL.Equal(decimal.NewFromInt(20)))
}

func TestIncreaseQuantity_RecomputesWeightedAverageEntry(t *testing.T) {
	p := Open(uuid.New(), "ETHUSDT", SideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(10), 10)
	p.IncreaseQuantity(decimal.NewFromInt(1), decimal.NewFromInt(200))

	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromInt(150)))
}

func TestReduceQuantity_RealizesPnLAndClosesAtZero(t *testing.T) {
	p := Open(uuid.New(), "ETHUSDT", SideLong, decimal.NewFromInt(2), decimal.NewFromInt(100), decimal.NewFromInt(20), 10)

	require.NoError(t, p.ReduceQuantity(decimal.NewFromInt(1), decimal.NewFromInt(120)))
	assert.True(t, p.Open)
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(20)))
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(1)))

	require.NoError(t, p.ReduceQuantity(decimal.NewFromInt(1), decimal.NewFromInt(130)))
	assert.False(t, p.Open)
	assert.NotNil(t, p.ClosedAt)
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(50)))
}

func TestReduceQuantity_FailsWhenExceedingOpenQuantity(t *testing.T) {
	p := Open(uuid.New(), "ETHUSDT", SideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(10), 10)
	err := p.ReduceQuantity(decimal.NewFromInt(2), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrReduceExceedsQuantity)
}

func TestReduceQuantity_FailsOnNonPositiveQuantity(t *testing.T) {
	p := Open(uuid.New(), "ETHUSDT", SideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(10), 10)
	err := p.ReduceQuantity(decimal.NewFromInt(0), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
