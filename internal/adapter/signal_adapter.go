// Package adapter turns a strategy signal into a concrete order request:
// side/position-side, size, order type, price, and stop-loss/take-profit
// levels (§4.6).
package adapter

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/tradingcore/internal/config"
	"github.com/aristath/tradingcore/internal/domain/signal"
)

// Mapping declares how one signal type is adapted into an order action.
type Mapping struct {
	Action         string // "open" or "close"; "none" drops the signal
	OrderSide      string // "buy" / "sell"
	PositionSide   string // "long" / "short"
	SizeMultiplier decimal.Decimal
	ReduceOnly     bool
}

// defaultMappings is the signal-type lookup table, equivalent to the
// original's config-driven signal_mappings dict, fixed here as the closed
// set the specification's sum-type Signal.Type admits.
func defaultMappings() map[signal.Type]Mapping {
	one := decimal.NewFromInt(1)
	return map[signal.Type]Mapping{
		signal.TypeStrongBuy:  {Action: "open", OrderSide: "buy", PositionSide: "long", SizeMultiplier: decimal.NewFromFloat(1.5)},
		signal.TypeBuy:        {Action: "open", OrderSide: "buy", PositionSide: "long", SizeMultiplier: one},
		signal.TypeSell:       {Action: "open", OrderSide: "sell", PositionSide: "short", SizeMultiplier: one},
		signal.TypeStrongSell: {Action: "open", OrderSide: "sell", PositionSide: "short", SizeMultiplier: decimal.NewFromFloat(1.5)},
		signal.TypeCloseLong:  {Action: "close", OrderSide: "sell", PositionSide: "long", SizeMultiplier: one, ReduceOnly: true},
		signal.TypeCloseShort: {Action: "close", OrderSide: "buy", PositionSide: "short", SizeMultiplier: one, ReduceOnly: true},
		signal.TypeHold:       {Action: "none"},
	}
}

// OrderRequest is the adapter's output: a fully-shaped order ready for the
// Risk Validator and, on Allow/Adjust, the Broker Port.
type OrderRequest struct {
	Symbol       string
	Side         string
	PositionSide string
	Quantity     decimal.Decimal
	OrderType    string // "MARKET" or "LIMIT"
	Price        decimal.Decimal
	Leverage     int
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	ReduceOnly   bool
}

// Adapter converts signals into order requests per the configured sizing
// and order-shaping parameters.
type Adapter struct {
	sizing   config.SizingConfig
	riskCfg  config.RiskConfig
	orderCfg config.OrderConfig
	mappings map[signal.Type]Mapping
}

// New constructs an Adapter from resolved configuration.
func New(sizing config.SizingConfig, riskCfg config.RiskConfig, orderCfg config.OrderConfig) *Adapter {
	return &Adapter{
		sizing:   sizing,
		riskCfg:  riskCfg,
		orderCfg: orderCfg,
		mappings: defaultMappings(),
	}
}

// PortfolioState is the minimal portfolio view the adapter needs: available
// cash to size against, and (optionally) recent signal strengths for this
// symbol used to dampen sizing in volatile regimes.
type PortfolioState struct {
	AvailableCash          decimal.Decimal
	RecentSignalStrengths  []float64
}

// Adapt converts sig into an OrderRequest, or returns ok=false when the
// signal should be dropped (mapped to no action, or size computes to zero).
func (a *Adapter) Adapt(sig signal.Signal, state PortfolioState, currentPrice decimal.Decimal) (OrderRequest, bool) {
	mapping, known := a.mappings[sig.Type]
	if !known || mapping.Action == "none" {
		return OrderRequest{}, false
	}

	quantity := a.positionSize(sig, state, currentPrice, mapping.SizeMultiplier)
	if quantity.Sign() <= 0 {
		return OrderRequest{}, false
	}

	orderType, price := a.orderTypeAndPrice(mapping.OrderSide, currentPrice)
	stopLoss, takeProfit := a.riskLevels(price, mapping.PositionSide)

	return OrderRequest{
		Symbol:       sig.Symbol,
		Side:         mapping.OrderSide,
		PositionSide: mapping.PositionSide,
		Quantity:     quantity,
		OrderType:    orderType,
		Price:        price,
		Leverage:     a.riskCfg.MaxLeverage,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		ReduceOnly:   mapping.ReduceOnly,
	}, true
}

// positionSize computes order quantity in base-asset units: a USDT position
// value (fixed-% or Kelly), scaled by signal strength and the mapping's
// size multiplier, clamped to the configured maximum, then leveraged and
// converted to units at currentPrice.
func (a *Adapter) positionSize(sig signal.Signal, state PortfolioState, currentPrice, sizeMultiplier decimal.Decimal) decimal.Decimal {
	if currentPrice.Sign() <= 0 {
		return decimal.Zero
	}

	var positionValue decimal.Decimal
	if a.sizing.UseKellyCriterion {
		positionValue = a.kellyPositionValue(sig, state)
	} else {
		positionValue = a.fixedPositionValue(state)
	}

	positionValue = positionValue.Mul(sizeMultiplier).Mul(sig.Strength)

	if volDamper := volatilityDamper(state.RecentSignalStrengths); volDamper.LessThan(decimal.NewFromInt(1)) {
		positionValue = positionValue.Mul(volDamper)
	}

	if a.riskCfg.MaxPositionSizeUSDT.Sign() > 0 && positionValue.GreaterThan(a.riskCfg.MaxPositionSizeUSDT) {
		positionValue = a.riskCfg.MaxPositionSizeUSDT
	}

	leverage := a.riskCfg.MaxLeverage
	if leverage <= 0 {
		leverage = 1
	}
	leveragedValue := positionValue.Mul(decimal.NewFromInt(int64(leverage)))
	return leveragedValue.Div(currentPrice)
}

// kellyPositionValue applies the Kelly criterion: f = (p*b - q) / b, with p
// the win probability (signal confidence), q = 1-p, and b the declared
// win/loss ratio (signal.Parameters["expected_rr"], default 2.0). Negative
// Kelly clamps to zero; the result clamps to the configured kellyFraction.
func (a *Adapter) kellyPositionValue(sig signal.Signal, state PortfolioState) decimal.Decimal {
	winProb := sig.Confidence
	lossProb := decimal.NewFromInt(1).Sub(winProb)

	winLossRatio := sig.Parameters["expected_rr"]
	if winLossRatio.Sign() <= 0 {
		winLossRatio = decimal.NewFromFloat(2.0)
	}

	kellyFraction := winProb.Mul(winLossRatio).Sub(lossProb).Div(winLossRatio)
	if kellyFraction.Sign() < 0 {
		kellyFraction = decimal.Zero
	}

	kellyCap := a.sizing.KellyFraction
	if kellyCap.Sign() <= 0 {
		kellyCap = decimal.NewFromFloat(0.25)
	}
	if kellyFraction.GreaterThan(kellyCap) {
		kellyFraction = kellyCap
	}

	return state.AvailableCash.Mul(kellyFraction)
}

func (a *Adapter) fixedPositionValue(state PortfolioState) decimal.Decimal {
	pct := a.sizing.DefaultPositionSizePercent.Div(decimal.NewFromInt(100))
	return state.AvailableCash.Mul(pct)
}

// volatilityDamper returns a factor in (0, 1] that shrinks position size
// when recent signal strengths have been volatile, computed from their
// sample standard deviation. A nil/short history damps nothing (factor 1).
func volatilityDamper(strengths []float64) decimal.Decimal {
	if len(strengths) < 3 {
		return decimal.NewFromInt(1)
	}
	mean := stat.Mean(strengths, nil)
	stdDev := stat.StdDev(strengths, nil)
	if mean <= 0 {
		return decimal.NewFromInt(1)
	}
	coefficientOfVariation := stdDev / mean
	damper := 1 / (1 + coefficientOfVariation)
	return decimal.NewFromFloat(damper)
}

func (a *Adapter) orderTypeAndPrice(orderSide string, currentPrice decimal.Decimal) (string, decimal.Decimal) {
	orderType := a.orderCfg.DefaultOrderType
	if orderType == "" {
		orderType = "MARKET"
	}
	if orderType != "LIMIT" {
		return "MARKET", decimal.Zero
	}

	offset := a.orderCfg.LimitOrderOffsetPct.Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)
	if orderSide == "buy" {
		return "LIMIT", currentPrice.Mul(one.Sub(offset))
	}
	return "LIMIT", currentPrice.Mul(one.Add(offset))
}

// riskLevels derives stop-loss and take-profit around entryPrice for the
// given position side.
func (a *Adapter) riskLevels(entryPrice decimal.Decimal, positionSide string) (decimal.Decimal, decimal.Decimal) {
	if entryPrice.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}

	slPct := a.orderCfg.StopLossPercent.Div(decimal.NewFromInt(100))
	tpPct := a.orderCfg.TakeProfitPercent.Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)

	if positionSide == "short" {
		return entryPrice.Mul(one.Add(slPct)), entryPrice.Mul(one.Sub(tpPct))
	}
	return entryPrice.Mul(one.Sub(slPct)), entryPrice.Mul(one.Add(tpPct))
}
