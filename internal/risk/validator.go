// Package risk implements the pre-trade Risk Validator: eight ordered
// checks run against a proposed order and a portfolio-state snapshot,
// producing an Allow/Adjust/Block decision before any order reaches the
// broker.
package risk

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/config"
	"github.com/aristath/tradingcore/pkg/logger"
)

// Action is the validator's decision for a proposed order.
type Action string

const (
	ActionAllow Action = "Allow"
	ActionAdjust Action = "Adjust"
	ActionBlock Action = "Block"
)

// Level buckets the overall risk exposure for the summary() projection.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// minPositionValue guards against dust orders, mirrored from the original
// pre-trade validator's fixed $10 floor.
var minPositionValue = decimal.NewFromInt(10)

// marginUtilizationCeiling caps post-trade margin usage even when the raw
// margin-feasibility check (step 5) would otherwise pass.
var marginUtilizationCeiling = decimal.NewFromFloat(0.9)

// ProposedOrder is the input order under validation.
type ProposedOrder struct {
	Symbol   string
	Side     string // "buy" or "sell"
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Leverage int
	StopPrice decimal.Decimal
}

// PositionExposure is one open position's contribution to portfolio exposure.
type PositionExposure struct {
	Symbol string
	Value  decimal.Decimal
}

// PortfolioSnapshot is a point-in-time read of portfolio state, assembled
// fresh by the caller before each validation call.
type PortfolioSnapshot struct {
	PortfolioID   uuid.UUID
	AvailableCash decimal.Decimal
	MarginUsed    decimal.Decimal
	TotalEquity   decimal.Decimal
	PeakEquity    decimal.Decimal
	Positions     []PositionExposure
}

func (s PortfolioSnapshot) totalValue() decimal.Decimal {
	return s.AvailableCash.Add(s.MarginUsed)
}

// Adjustments carries the parameter changes applied when Action is Adjust.
type Adjustments struct {
	Leverage *int
	Quantity *decimal.Decimal
	Metadata map[string]string
}

// Result is the validator's (action, reason, adjustments) triple.
type Result struct {
	Action      Action
	Reason      string
	Adjustments *Adjustments
	ChecksRun   []string
}

// Summary is the operator-facing risk projection (§4.5).
type Summary struct {
	ExposurePercent   decimal.Decimal
	DailyLossPercent  decimal.Decimal
	DrawdownPercent   decimal.Decimal
	RiskLevel         Level
	ActiveThresholds  map[string]string
}

// Validator runs the eight-check pre-trade gate and tracks per-portfolio
// daily loss counters, reset at a configurable UTC rollover.
type Validator struct {
	cfg               config.RiskConfig
	correlationGroups map[string][]string

	mu          sync.Mutex
	dailyLosses map[uuid.UUID]decimal.Decimal

	cron *cron.Cron
	log  zerolog.Logger
}

// New constructs a Validator. correlationGroups maps a declared group name
// (e.g. "major-crypto") to its member symbols.
func New(cfg config.RiskConfig, correlationGroups map[string][]string, log zerolog.Logger) *Validator {
	return &Validator{
		cfg:               cfg,
		correlationGroups: correlationGroups,
		dailyLosses:       make(map[uuid.UUID]decimal.Decimal),
		log:               logger.Component(log, "risk_validator"),
	}
}

// StartDailyReset schedules the UTC daily-counter rollover per
// cfg.DailyResetCron (default "0 0 * * *"). Call Stop to release the
// scheduler goroutine on shutdown.
func (v *Validator) StartDailyReset() error {
	spec := v.cfg.DailyResetCron
	if spec == "" {
		spec = "0 0 * * *"
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, v.resetDailyCounters); err != nil {
		return err
	}
	c.Start()
	v.cron = c
	return nil
}

// Stop releases the daily-reset scheduler, if running.
func (v *Validator) Stop() {
	if v.cron != nil {
		v.cron.Stop()
	}
}

func (v *Validator) resetDailyCounters() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.log.Info().Msg("resetting daily risk counters")
	v.dailyLosses = make(map[uuid.UUID]decimal.Decimal)
}

// RecordRealizedPnL accumulates a realized PnL delta into the portfolio's
// running daily-loss counter. Called by the orchestrator whenever a fill
// or position close realizes PnL.
func (v *Validator) RecordRealizedPnL(portfolioID uuid.UUID, pnl decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dailyLosses[portfolioID] = v.dailyLosses[portfolioID].Add(pnl)
}

func (v *Validator) dailyLoss(portfolioID uuid.UUID) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dailyLosses[portfolioID]
}

// Validate runs the eight ordered checks against order and snapshot. The
// first check that fails wins, except that an Adjust opportunity (leverage
// ceiling, margin feasibility) is applied in place and validation continues
// with the adjusted order rather than stopping.
func (v *Validator) Validate(order ProposedOrder, snapshot PortfolioSnapshot) Result {
	checks := make([]string, 0, 8)
	adjustments := &Adjustments{Metadata: make(map[string]string)}
	adjusted := false

	record := func(name string) { checks = append(checks, name) }

	// 1. Leverage ceiling — Adjust, never Block.
	record("leverage_ceiling")
	if v.cfg.MaxLeverage > 0 && order.Leverage > v.cfg.MaxLeverage {
		capped := v.cfg.MaxLeverage
		order.Leverage = capped
		adjustments.Leverage = &capped
		adjustments.Metadata["leverage"] = decimalFromInt(capped).String()
		adjusted = true
	}

	// 2. Position-size ceiling.
	record("position_size_ceiling")
	notional := order.Quantity.Mul(order.Price)
	if v.cfg.MaxPositionSizeUSDT.Sign() > 0 && notional.GreaterThan(v.cfg.MaxPositionSizeUSDT) {
		return blocked(checks, "position value "+notional.String()+" exceeds maximum "+v.cfg.MaxPositionSizeUSDT.String())
	}
	if notional.LessThan(minPositionValue) {
		return blocked(checks, "position value "+notional.String()+" below minimum "+minPositionValue.String())
	}

	// 3. Daily loss limit — independent of the order itself.
	record("daily_loss_limit")
	loss := v.dailyLoss(snapshot.PortfolioID).Abs()
	if v.cfg.DailyLossLimitUSDT.Sign() > 0 && loss.GreaterThanOrEqual(v.cfg.DailyLossLimitUSDT) {
		return blocked(checks, "daily loss "+loss.String()+" at or beyond limit "+v.cfg.DailyLossLimitUSDT.String())
	}

	// 4. Max positions.
	record("max_positions")
	if v.cfg.MaxPositions > 0 && len(snapshot.Positions) >= v.cfg.MaxPositions {
		return blocked(checks, "already at maximum open positions")
	}

	// 5. Margin feasibility — Adjust-by-reducing-quantity on infeasibility.
	record("margin_feasibility")
	leverage := order.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	requiredMargin := notional.Div(decimalFromInt(leverage))
	available := snapshot.AvailableCash

	if requiredMargin.GreaterThan(available) || marginUtilizationExceeded(snapshot, requiredMargin) {
		feasibleQty := largestFeasibleQuantity(order.Price, leverage, available, v.cfg.MaxPositionSizeUSDT)
		reducedQty := feasibleQty.Mul(decimal.NewFromFloat(0.95))
		minAcceptable := order.Quantity.Mul(decimal.NewFromFloat(0.1))

		if reducedQty.LessThan(minAcceptable) || reducedQty.Sign() <= 0 {
			return blocked(checks, "insufficient margin: required "+requiredMargin.String()+", available "+available.String())
		}

		order.Quantity = reducedQty
		notional = order.Quantity.Mul(order.Price)
		adjustments.Quantity = &reducedQty
		adjustments.Metadata["quantity"] = reducedQty.String()
		adjusted = true
	}

	// 6. Concentration — per-symbol exposure, including this order, as a
	// share of total equity <= configured ceiling (30% default).
	record("concentration")
	maxConcentration := v.cfg.MaxConcentration
	if maxConcentration.Sign() <= 0 {
		maxConcentration = decimal.NewFromFloat(0.3)
	}
	symbolExposure, _ := exposureBySymbol(snapshot.Positions)
	symbolExposure[order.Symbol] = symbolExposure[order.Symbol].Add(notional)
	if snapshot.TotalEquity.Sign() > 0 {
		concentration := symbolExposure[order.Symbol].Div(snapshot.TotalEquity)
		if concentration.GreaterThan(maxConcentration) {
			return blocked(checks, "concentration in "+order.Symbol+" would exceed "+maxConcentration.String())
		}
	}

	// 7. Correlation — declared groups, each capped at MaxPerGroup positions.
	record("correlation")
	if group, ok := v.groupFor(order.Symbol); ok {
		count := 0
		for _, p := range snapshot.Positions {
			if contains(v.correlationGroups[group], p.Symbol) {
				count++
			}
		}
		maxPerGroup := v.cfg.MaxPerGroup
		if maxPerGroup <= 0 {
			maxPerGroup = 2
		}
		if count >= maxPerGroup {
			return blocked(checks, "already at maximum correlated positions in group "+group)
		}
	}

	// 8. Drawdown.
	record("drawdown")
	if snapshot.PeakEquity.Sign() > 0 {
		drawdown := snapshot.PeakEquity.Sub(snapshot.TotalEquity).Div(snapshot.PeakEquity).Mul(decimalFromInt(100))
		if v.cfg.MaxDrawdownPercent.Sign() > 0 && drawdown.GreaterThan(v.cfg.MaxDrawdownPercent) {
			return blocked(checks, "drawdown "+drawdown.String()+"% exceeds limit "+v.cfg.MaxDrawdownPercent.String()+"%")
		}
	}

	if adjusted {
		return Result{Action: ActionAdjust, Reason: "order adjusted to satisfy risk limits", Adjustments: adjustments, ChecksRun: checks}
	}
	return Result{Action: ActionAllow, ChecksRun: checks}
}

// Summarize returns the operator-facing risk projection for snapshot.
func (v *Validator) Summarize(snapshot PortfolioSnapshot) Summary {
	_, totalExposure := exposureBySymbol(snapshot.Positions)

	exposurePct := decimal.Zero
	if snapshot.TotalEquity.Sign() > 0 {
		exposurePct = totalExposure.Div(snapshot.TotalEquity).Mul(decimalFromInt(100))
	}

	dailyLossPct := decimal.Zero
	if v.cfg.DailyLossLimitUSDT.Sign() > 0 {
		dailyLossPct = v.dailyLoss(snapshot.PortfolioID).Abs().Div(v.cfg.DailyLossLimitUSDT).Mul(decimalFromInt(100))
	}

	drawdownPct := decimal.Zero
	if snapshot.PeakEquity.Sign() > 0 {
		drawdownPct = snapshot.PeakEquity.Sub(snapshot.TotalEquity).Div(snapshot.PeakEquity).Mul(decimalFromInt(100))
	}

	max := exposurePct
	if dailyLossPct.GreaterThan(max) {
		max = dailyLossPct
	}
	if drawdownPct.GreaterThan(max) {
		max = drawdownPct
	}

	return Summary{
		ExposurePercent:  exposurePct,
		DailyLossPercent: dailyLossPct,
		DrawdownPercent:  drawdownPct,
		RiskLevel:        levelFor(max),
		ActiveThresholds: map[string]string{
			"max_leverage":           decimalFromInt(v.cfg.MaxLeverage).String(),
			"max_position_size_usdt": v.cfg.MaxPositionSizeUSDT.String(),
			"max_positions":          decimalFromInt(v.cfg.MaxPositions).String(),
			"daily_loss_limit_usdt":  v.cfg.DailyLossLimitUSDT.String(),
			"max_drawdown_percent":   v.cfg.MaxDrawdownPercent.String(),
		},
	}
}

func levelFor(pct decimal.Decimal) Level {
	switch {
	case pct.GreaterThanOrEqual(decimalFromInt(90)):
		return LevelCritical
	case pct.GreaterThanOrEqual(decimalFromInt(70)):
		return LevelHigh
	case pct.GreaterThanOrEqual(decimalFromInt(40)):
		return LevelMedium
	default:
		return LevelLow
	}
}

func (v *Validator) groupFor(symbol string) (string, bool) {
	for group, members := range v.correlationGroups {
		if contains(members, symbol) {
			return group, true
		}
	}
	return "", false
}

func marginUtilizationExceeded(snapshot PortfolioSnapshot, requiredMargin decimal.Decimal) bool {
	if snapshot.AvailableCash.Sign() <= 0 {
		return true
	}
	totalMargin := snapshot.MarginUsed.Add(requiredMargin)
	utilization := totalMargin.Div(snapshot.AvailableCash.Add(snapshot.MarginUsed))
	return utilization.GreaterThan(marginUtilizationCeiling)
}

func largestFeasibleQuantity(price decimal.Decimal, leverage int, available, maxPositionUSDT decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	maxByMargin := available.Mul(decimalFromInt(leverage)).Div(price)
	if maxPositionUSDT.Sign() > 0 {
		maxByCeiling := maxPositionUSDT.Div(price)
		if maxByCeiling.LessThan(maxByMargin) {
			return maxByCeiling
		}
	}
	return maxByMargin
}

func exposureBySymbol(positions []PositionExposure) (map[string]decimal.Decimal, decimal.Decimal) {
	bySymbol := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, p := range positions {
		bySymbol[p.Symbol] = bySymbol[p.Symbol].Add(p.Value)
		total = total.Add(p.Value)
	}
	return bySymbol, total
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func decimalFromInt(i int) decimal.Decimal { return decimal.NewFromInt(int64(i)) }

func blocked(checks []string, reason string) Result {
	return Result{Action: ActionBlock, Reason: reason, ChecksRun: checks}
}
