package adapter

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradingcore/internal/config"
	"github.com/aristath/tradingcore/internal/domain/signal"
)

func testAdapter() *Adapter {
	return New(
		config.SizingConfig{
			DefaultPositionSizePercent: decimal.NewFromInt(10),
			KellyFraction:              decimal.NewFromFloat(0.25),
		},
		config.RiskConfig{
			MaxLeverage:         10,
			MaxPositionSizeUSDT: decimal.NewFromInt(5000),
		},
		config.OrderConfig{
			DefaultOrderType:    "MARKET",
			LimitOrderOffsetPct: decimal.NewFromFloat(0.1),
			StopLossPercent:     decimal.NewFromInt(2),
			TakeProfitPercent:   decimal.NewFromInt(4),
		},
	)
}

func TestAdapt_HoldSignalIsDropped(t *testing.T) {
	a := testAdapter()
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeHold, decimal.NewFromFloat(0.8), decimal.NewFromFloat(0.8), nil)

	_, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(10000)}, decimal.NewFromInt(50000))
	assert.False(t, ok)
}

func TestAdapt_BuySignalProducesLongMarketOrder(t *testing.T) {
	a := testAdapter()
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeBuy, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.8), nil)

	req, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(10000)}, decimal.NewFromInt(50000))
	require.True(t, ok)
	assert.Equal(t, "buy", req.Side)
	assert.Equal(t, "long", req.PositionSide)
	assert.Equal(t, "MARKET", req.OrderType)
	assert.True(t, req.Quantity.GreaterThan(decimal.Zero))
	assert.True(t, req.StopLoss.LessThan(decimal.NewFromInt(50000)))
	assert.True(t, req.TakeProfit.GreaterThan(decimal.NewFromInt(50000)))
}

func TestAdapt_CloseLongIsReduceOnlySell(t *testing.T) {
	a := testAdapter()
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeCloseLong, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.9), nil)

	req, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(10000)}, decimal.NewFromInt(50000))
	require.True(t, ok)
	assert.Equal(t, "sell", req.Side)
	assert.True(t, req.ReduceOnly)
}

func TestAdapt_LimitOrderAppliesOffset(t *testing.T) {
	a := testAdapter()
	a.orderCfg.DefaultOrderType = "LIMIT"
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeBuy, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.8), nil)

	req, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(10000)}, decimal.NewFromInt(50000))
	require.True(t, ok)
	assert.Equal(t, "LIMIT", req.OrderType)
	assert.True(t, req.Price.LessThan(decimal.NewFromInt(50000)))
}

func TestAdapt_PositionValueClampedToMax(t *testing.T) {
	a := testAdapter()
	a.sizing.DefaultPositionSizePercent = decimal.NewFromInt(100) // request the whole balance
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeBuy, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.8), nil)

	req, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(100000)}, decimal.NewFromInt(50000))
	require.True(t, ok)
	// leveraged notional should not exceed MaxPositionSizeUSDT * leverage
	notional := req.Quantity.Mul(decimal.NewFromInt(50000))
	maxNotional := a.riskCfg.MaxPositionSizeUSDT.Mul(decimal.NewFromInt(int64(a.riskCfg.MaxLeverage)))
	assert.True(t, notional.LessThanOrEqual(maxNotional.Add(decimal.NewFromInt(1))))
}

func TestKellyPositionValue_ClampsNegativeKellyToZero(t *testing.T) {
	a := testAdapter()
	a.sizing.UseKellyCriterion = true
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeBuy, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.1), nil)

	req, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(10000)}, decimal.NewFromInt(50000))
	assert.False(t, ok)
	assert.True(t, req.Quantity.IsZero())
}

func TestKellyPositionValue_UsesExpectedRRParameter(t *testing.T) {
	a := testAdapter()
	a.sizing.UseKellyCriterion = true
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeBuy, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.7),
		map[string]decimal.Decimal{"expected_rr": decimal.NewFromFloat(3.0)})

	req, ok := a.Adapt(sig, PortfolioState{AvailableCash: decimal.NewFromInt(10000)}, decimal.NewFromInt(50000))
	require.True(t, ok)
	assert.True(t, req.Quantity.GreaterThan(decimal.Zero))
}

func TestVolatilityDamper_ShrinksSizeUnderVolatileHistory(t *testing.T) {
	a := testAdapter()
	sig := signal.New("momentum-v1", "BTCUSDT", signal.TypeBuy, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.8), nil)

	stable := PortfolioState{AvailableCash: decimal.NewFromInt(10000), RecentSignalStrengths: []float64{0.8, 0.81, 0.79, 0.8}}
	volatile := PortfolioState{AvailableCash: decimal.NewFromInt(10000), RecentSignalStrengths: []float64{0.9, 0.1, 0.9, 0.1}}

	reqStable, okStable := a.Adapt(sig, stable, decimal.NewFromInt(50000))
	reqVolatile, okVolatile := a.Adapt(sig, volatile, decimal.NewFromInt(50000))
	require.True(t, okStable)
	require.True(t, okVolatile)
	assert.True(t, reqVolatile.Quantity.LessThan(reqStable.Quantity))
}
