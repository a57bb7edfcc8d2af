package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradingcore/internal/config"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxLeverage:         10,
		MaxPositionSizeUSDT: decimal.NewFromInt(10000),
		MaxPositions:        5,
		DailyLossLimitUSDT:  decimal.NewFromInt(500),
		MaxDrawdownPercent:  decimal.NewFromInt(20),
		MaxConcentration:    decimal.NewFromFloat(0.3),
		MaxPerGroup:         2,
	}
}

func testValidator() *Validator {
	groups := map[string][]string{
		"major-crypto": {"BTCUSDT", "ETHUSDT", "BNBUSDT"},
	}
	return New(testConfig(), groups, zerolog.Nop())
}

func baseSnapshot() PortfolioSnapshot {
	return PortfolioSnapshot{
		PortfolioID:   uuid.New(),
		AvailableCash: decimal.NewFromInt(10000),
		TotalEquity:   decimal.NewFromInt(10000),
		PeakEquity:    decimal.NewFromInt(10000),
	}
}

func TestValidate_HappyPathAllows(t *testing.T) {
	v := testValidator()
	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Side:     "buy",
		Quantity: decimal.NewFromFloat(0.001),
		Price:    decimal.NewFromInt(50000),
		Leverage: 5,
	}

	result := v.Validate(order, baseSnapshot())
	assert.Equal(t, ActionAllow, result.Action)
	assert.Len(t, result.ChecksRun, 8)
}

func TestValidate_OversizeBlocks(t *testing.T) {
	v := testValidator()
	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Side:     "buy",
		Quantity: decimal.NewFromFloat(1.0),
		Price:    decimal.NewFromInt(50000),
		Leverage: 5,
	}

	result := v.Validate(order, baseSnapshot())
	require.Equal(t, ActionBlock, result.Action)
	assert.Contains(t, result.Reason, "exceeds maximum")
}

func TestValidate_LeverageAdjustedToMax(t *testing.T) {
	v := testValidator()
	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Side:     "buy",
		Quantity: decimal.NewFromFloat(0.001),
		Price:    decimal.NewFromInt(50000),
		Leverage: 20,
	}

	result := v.Validate(order, baseSnapshot())
	require.Equal(t, ActionAdjust, result.Action)
	require.NotNil(t, result.Adjustments)
	require.NotNil(t, result.Adjustments.Leverage)
	assert.Equal(t, 10, *result.Adjustments.Leverage)
	assert.Equal(t, "10", result.Adjustments.Metadata["leverage"])
}

func TestValidate_DailyLossLimitBlocksIndependentlyOfOrder(t *testing.T) {
	v := testValidator()
	snapshot := baseSnapshot()
	v.RecordRealizedPnL(snapshot.PortfolioID, decimal.NewFromInt(-600))

	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Side:     "buy",
		Quantity: decimal.NewFromFloat(0.001),
		Price:    decimal.NewFromInt(50000),
		Leverage: 5,
	}

	result := v.Validate(order, snapshot)
	require.Equal(t, ActionBlock, result.Action)
	assert.Contains(t, result.Reason, "daily loss")
}

func TestValidate_MaxPositionsBlocks(t *testing.T) {
	v := testValidator()
	snapshot := baseSnapshot()
	for i := 0; i < 5; i++ {
		snapshot.Positions = append(snapshot.Positions, PositionExposure{Symbol: "SOLUSDT", Value: decimal.NewFromInt(100)})
	}

	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Quantity: decimal.NewFromFloat(0.001),
		Price:    decimal.NewFromInt(50000),
		Leverage: 5,
	}

	result := v.Validate(order, snapshot)
	require.Equal(t, ActionBlock, result.Action)
	assert.Contains(t, result.Reason, "maximum open positions")
}

func TestValidate_MarginInfeasibleReducesQuantity(t *testing.T) {
	v := testValidator()
	snapshot := baseSnapshot()
	snapshot.AvailableCash = decimal.NewFromInt(50)

	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Quantity: decimal.NewFromFloat(0.01),
		Price:    decimal.NewFromInt(50000),
		Leverage: 10,
	}

	result := v.Validate(order, snapshot)
	require.Equal(t, ActionAdjust, result.Action)
	require.NotNil(t, result.Adjustments.Quantity)
	assert.True(t, result.Adjustments.Quantity.LessThan(order.Quantity))
}

func TestValidate_CorrelationGroupBlocksOnBreach(t *testing.T) {
	v := testValidator()
	snapshot := baseSnapshot()
	snapshot.Positions = []PositionExposure{
		{Symbol: "BTCUSDT", Value: decimal.NewFromInt(500)},
		{Symbol: "ETHUSDT", Value: decimal.NewFromInt(500)},
	}

	order := ProposedOrder{
		Symbol:   "BNBUSDT",
		Quantity: decimal.NewFromFloat(0.1),
		Price:    decimal.NewFromInt(500),
		Leverage: 5,
	}

	result := v.Validate(order, snapshot)
	require.Equal(t, ActionBlock, result.Action)
	assert.Contains(t, result.Reason, "correlated positions")
}

func TestValidate_DrawdownBlocksOnBreach(t *testing.T) {
	v := testValidator()
	snapshot := baseSnapshot()
	snapshot.PeakEquity = decimal.NewFromInt(10000)
	snapshot.TotalEquity = decimal.NewFromInt(7000) // 30% drawdown > 20% limit

	order := ProposedOrder{
		Symbol:   "BTCUSDT",
		Quantity: decimal.NewFromFloat(0.001),
		Price:    decimal.NewFromInt(50000),
		Leverage: 5,
	}

	result := v.Validate(order, snapshot)
	require.Equal(t, ActionBlock, result.Action)
	assert.Contains(t, result.Reason, "drawdown")
}

func TestSummarize_BucketsRiskLevel(t *testing.T) {
	v := testValidator()
	snapshot := baseSnapshot()
	snapshot.PeakEquity = decimal.NewFromInt(10000)
	snapshot.TotalEquity = decimal.NewFromInt(9500)

	summary := v.Summarize(snapshot)
	assert.Equal(t, LevelLow, summary.RiskLevel)

	snapshot.TotalEquity = decimal.NewFromInt(1000) // 90% drawdown
	summary = v.Summarize(snapshot)
	assert.Equal(t, LevelCritical, summary.RiskLevel)
}

func TestRecordRealizedPnL_ResetByDailyReset(t *testing.T) {
	v := testValidator()
	portfolioID := uuid.New()
	v.RecordRealizedPnL(portfolioID, decimal.NewFromInt(-100))
	assert.True(t, v.dailyLoss(portfolioID).Equal(decimal.NewFromInt(-100)))

	v.resetDailyCounters()
	assert.True(t, v.dailyLoss(portfolioID).IsZero())
}
