package trading

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"
)

const (
	positionReconcileInterval = 5 * time.Second
	orderReconcileInterval    = 2 * time.Second
	monitorInterval           = 10 * time.Second
)

// nearLiquidationThreshold triggers an automatic emergency stop once a
// position's mark price comes within this fraction of its estimated
// liquidation price.
var nearLiquidationThreshold = decimal.NewFromFloat(0.1)

// dailyLossBreachPercent is the DailyLossPercent (daily loss as a percentage
// of the configured limit) at which the monitor loop escalates, independent
// of the pre-trade daily_loss_limit check that only fires on a new order.
var dailyLossBreachPercent = decimal.NewFromInt(100)

// startLoops spawns the five background loops that keep a running session
// honest between control-surface calls: position mark-to-market, order
// status reconciliation, drawdown/risk monitoring, broker heartbeat and
// periodic state snapshotting (§4.7, §4.9).
func (s *Service) startLoops(ctx context.Context) {
	s.runLoop(ctx, "position_reconcile", positionReconcileInterval, s.reconcilePositions)
	s.runLoop(ctx, "order_reconcile", orderReconcileInterval, s.reconcileOrders)
	s.runLoop(ctx, "risk_monitor", monitorInterval, s.monitorTick)
	s.runLoop(ctx, "heartbeat", s.heartbeatInterval(), s.heartbeatTick)
	s.runLoop(ctx, "snapshot", s.snapshotInterval(), s.snapshotTick)
}

// runLoop is the shared ticker-driven background-loop driver: it ticks fn
// on interval until ctx is cancelled, tracked on loopWG so stopLoops can
// wait for every loop to exit cleanly.
func (s *Service) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					s.log.Error().Err(err).Str("loop", name).Msg("background loop iteration failed")
				}
			}
		}
	}()
}

// stopLoops cancels every running loop and waits for them to return.
func (s *Service) stopLoops() {
	if s.loopCancel == nil {
		return
	}
	s.loopCancel()
	s.loopWG.Wait()
	s.loopCancel = nil
}

// reconcilePositions marks every tracked position to the latest broker
// price and recomputes total equity and the high-water mark used for
// drawdown checks (§4.7).
func (s *Service) reconcilePositions(ctx context.Context) error {
	s.positionsMu.Lock()
	defer s.positionsMu.Unlock()

	var lastErr error
	for _, p := range s.positions {
		md, err := s.broker.GetMarketData(ctx, p.Symbol)
		if err != nil {
			lastErr = err
			continue
		}
		p.ApplyMark(md.LastPrice)
		s.bus.Publish(PositionUpdatedEvent{
			Symbol: p.Symbol, Side: string(p.Side), Quantity: p.Quantity,
			UnrealizedPnL: p.UnrealizedPnL, UpdatedAt: time.Now().UTC(),
		})
	}
	s.recalcEquity()

	if lastErr != nil {
		s.recordLoopFailure(&s.positionLoopFailures, "position reconciliation", lastErr)
		return lastErr
	}
	s.resetLoopFailure(&s.positionLoopFailures)
	return nil
}

// recalcEquity recomputes the portfolio's total equity from cash, reserved
// margin and the sum of every tracked position's unrealized PnL, advancing
// the peak-equity high-water mark when equity reaches a new high. Callers
// must already hold positionsMu.
func (s *Service) recalcEquity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.portfolio == nil {
		return
	}

	unrealized := decimal.Zero
	for _, p := range s.positions {
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	s.portfolio.TotalEquity = s.portfolio.AvailableCash.Add(s.portfolio.TotalReserved()).Add(unrealized)
	if s.portfolio.TotalEquity.GreaterThan(s.peakEquity) {
		s.peakEquity = s.portfolio.TotalEquity
	}
}

// reconcileOrders polls the broker for the status of every locally active
// order. The Broker Port exposes no bulk open-orders listing, so each
// tracked order is queried individually by id — an adaptation documented
// against the more abstract "fetch open broker orders" language.
func (s *Service) reconcileOrders(ctx context.Context) error {
	s.ordersMu.RLock()
	tracked := make([]*trackedOrder, 0, len(s.orders))
	for _, t := range s.orders {
		tracked = append(tracked, t)
	}
	s.ordersMu.RUnlock()

	var lastErr error
	for _, t := range tracked {
		t.mu.Lock()
		if !t.ord.IsActive() || t.ord.BrokerOrderID == "" {
			t.mu.Unlock()
			continue
		}
		status, err := s.broker.GetOrderStatus(ctx, t.ord.BrokerOrderID)
		if err != nil {
			t.mu.Unlock()
			lastErr = err
			continue
		}
		s.applyBrokerStatus(t.ord, status)
		s.publishPending(t.ord)
		t.mu.Unlock()
	}

	if lastErr != nil {
		s.recordLoopFailure(&s.orderLoopFailures, "order reconciliation", lastErr)
		return lastErr
	}
	s.resetLoopFailure(&s.orderLoopFailures)
	return nil
}

// monitorTick runs the risk validator's read-only summarize path so that
// the risk level, drawdown and exposure are logged on a cadence even when no new
// order is being evaluated, then checks two conditions the pre-trade
// validator never sees because they don't arise from a new order: a
// position drifting within nearLiquidationThreshold of its estimated
// liquidation price, and the daily-loss counter breaching its configured
// limit on its own (the counter holds realized PnL recorded from fills,
// not mark-to-market losses). Either one
// escalates to an automatic emergency stop.
func (s *Service) monitorTick(ctx context.Context) error {
	summary := s.risk.Summarize(s.riskSnapshot())
	s.log.Info().
		Str("risk_level", string(summary.RiskLevel)).
		Str("drawdown_percent", summary.DrawdownPercent.String()).
		Str("exposure_percent", summary.ExposurePercent.String()).
		Msg("risk monitor tick")

	switch {
	case summary.DailyLossPercent.GreaterThanOrEqual(dailyLossBreachPercent):
		s.triggerMonitorEmergencyStop("daily loss reached " + summary.DailyLossPercent.String() + "% of configured limit")
	default:
		if symbol, distance, breached := s.nearestLiquidation(); breached {
			s.triggerMonitorEmergencyStop("position " + symbol + " is within " + distance.String() + " of its estimated liquidation price")
		}
	}

	s.publishHealth()
	return nil
}

// nearestLiquidation scans tracked positions for the first whose mark price
// has moved within nearLiquidationThreshold of its estimated liquidation
// price, returning the fractional distance actually observed.
func (s *Service) nearestLiquidation() (symbol string, distance decimal.Decimal, breached bool) {
	s.positionsMu.RLock()
	defer s.positionsMu.RUnlock()
	for _, p := range s.positions {
		if p.LiquidationPrice.Sign() <= 0 || p.MarkPrice.Sign() <= 0 {
			continue
		}
		d := p.MarkPrice.Sub(p.LiquidationPrice).Abs().Div(p.MarkPrice)
		if d.LessThanOrEqual(nearLiquidationThreshold) {
			return p.Symbol, d, true
		}
	}
	return "", decimal.Zero, false
}

// triggerMonitorEmergencyStop escalates from the monitor loop the same way
// recordLoopFailure escalates a reconciliation loop failure: from a new
// goroutine so the calling tick returns promptly instead of blocking on
// stopLoops' WaitGroup from inside the very loop it is stopping.
func (s *Service) triggerMonitorEmergencyStop(reason string) {
	s.log.Error().Str("reason", reason).Msg("risk monitor triggering automatic emergency stop")
	go func() {
		_ = s.EmergencyStop(context.Background(), reason, false)
	}()
}

// publishHealth samples process-level health (CPU, memory, goroutine
// count) and publishes it alongside domain events so an operator watching
// the control surface's debug feed sees resource pressure in context. A
// sampling failure is logged, not escalated — health is observability,
// not a trading-safety signal.
func (s *Service) publishHealth() {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample cpu usage")
		cpuPercent = []float64{0}
	}
	var memUsedPercent float64
	if vm, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("failed to sample memory usage")
	} else {
		memUsedPercent = vm.UsedPercent
	}

	s.bus.Publish(HealthPublishedEvent{
		CPUPercent:        cpuPercent[0],
		MemoryUsedPercent: memUsedPercent,
		Goroutines:        runtime.NumGoroutine(),
		PublishedAt:       time.Now().UTC(),
	})
}

// heartbeatTick keeps the broker connection alive. The Broker Port has no
// dedicated keepalive method, so a lightweight account-balance read is
// used as a substitute — any response, successful or not, confirms
// liveness of the transport.
func (s *Service) heartbeatTick(ctx context.Context) error {
	if _, err := s.broker.GetAccountBalance(ctx); err != nil {
		return err
	}
	return nil
}

// snapshotTick persists a routine state snapshot on the configured
// interval (§4.9), independent of the critical snapshots saved around
// stop/emergency-stop.
func (s *Service) snapshotTick(ctx context.Context) error {
	return s.recovery.SaveState(s.buildSnapshot())
}

func (s *Service) heartbeatInterval() time.Duration {
	if s.cfg != nil && s.cfg.WS.HeartbeatInterval > 0 {
		return time.Duration(s.cfg.WS.HeartbeatInterval) * time.Second
	}
	return 15 * time.Second
}

func (s *Service) snapshotInterval() time.Duration {
	if s.cfg != nil && s.cfg.State.SnapshotIntervalSecs > 0 {
		return time.Duration(s.cfg.State.SnapshotIntervalSecs) * time.Second
	}
	return 30 * time.Second
}

// recordLoopFailure tracks consecutive failures for a critical loop and
// triggers an automatic emergency stop once the threshold is crossed. The
// stop is triggered from a new goroutine so the calling loop goroutine can
// still observe ctx.Done() and return normally once loopCancel fires,
// rather than deadlocking against stopLoops' WaitGroup.
func (s *Service) recordLoopFailure(counter *int, loopName string, cause error) {
	s.failuresMu.Lock()
	*counter++
	n := *counter
	s.failuresMu.Unlock()

	if n >= maxCriticalLoopFailures {
		s.log.Error().Err(cause).Str("loop", loopName).Int("consecutive_failures", n).
			Msg("critical loop exceeded failure threshold, triggering emergency stop")
		go func() {
			_ = s.EmergencyStop(context.Background(), loopName+" failed repeatedly: "+cause.Error(), false)
		}()
	}
}

func (s *Service) resetLoopFailure(counter *int) {
	s.failuresMu.Lock()
	*counter = 0
	s.failuresMu.Unlock()
}
