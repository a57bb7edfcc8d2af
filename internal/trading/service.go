// Package trading implements the live trading orchestrator: the single
// service that owns a trading session end to end, wiring the Broker Port,
// Event Bus, Risk Validator, Signal Adapter and State Recovery into the
// order and position lifecycle (§4.1, §4.6, §4.8, §4.9, §9).
package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/adapter"
	"github.com/aristath/tradingcore/internal/broker"
	"github.com/aristath/tradingcore/internal/config"
	"github.com/aristath/tradingcore/internal/domain/order"
	"github.com/aristath/tradingcore/internal/domain/portfolio"
	"github.com/aristath/tradingcore/internal/domain/position"
	"github.com/aristath/tradingcore/internal/domain/session"
	"github.com/aristath/tradingcore/internal/domain/signal"
	"github.com/aristath/tradingcore/internal/events"
	"github.com/aristath/tradingcore/internal/recovery"
	"github.com/aristath/tradingcore/internal/risk"
	"github.com/aristath/tradingcore/pkg/logger"
)

// marketOrderReserveBuffer pads a market order's estimated-price reservation
// against slippage between the reservation and the fill (§4.4).
var marketOrderReserveBuffer = decimal.NewFromFloat(1.05)

// maxCriticalLoopFailures is how many consecutive failures a reconciliation
// loop tolerates before escalating to an automatic emergency stop (§7).
const maxCriticalLoopFailures = 5

// trackedOrder pairs an order aggregate with its own mutex, so concurrent
// operations on the same order id (a fill arriving on the user-data stream
// at the same moment an operator cancels it) serialize against each other
// without holding the service-wide orders map lock for the duration.
type trackedOrder struct {
	mu  sync.Mutex
	ord *order.Order
}

// PlaceOrderRequest is the control surface's direct order-submission
// payload — an already-shaped order, not a strategy signal.
type PlaceOrderRequest struct {
	Symbol      string
	Side        order.Side
	Type        order.Type
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce order.TimeInForce
	ReduceOnly  bool
	Leverage    int
}

// Service is the LiveTradingService orchestrator. It depends only on the
// Broker Port, Event Bus, Risk Validator, Signal Adapter and State Recovery
// — no direct infrastructure — per the specification's resolved Open
// Question on orchestrator shape.
type Service struct {
	cfg      *config.Config
	broker   broker.Port
	bus      *events.Bus
	risk     *risk.Validator
	adapter  *adapter.Adapter
	recovery *recovery.Service
	log      zerolog.Logger

	mu         sync.RWMutex
	sess       *session.Session
	portfolio  *portfolio.Portfolio
	peakEquity decimal.Decimal

	ordersMu sync.RWMutex
	orders   map[uuid.UUID]*trackedOrder

	positionsMu sync.RWMutex
	positions   map[string]*position.Position

	strengthsMu sync.Mutex
	strengths   map[string][]float64

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup

	failuresMu           sync.Mutex
	positionLoopFailures int
	orderLoopFailures    int
}

// New constructs a Service. The broker port, bus, validator, adapter and
// recovery service are all expected to be fully constructed already; New
// performs no I/O itself.
func New(cfg *config.Config, brokerPort broker.Port, bus *events.Bus, validator *risk.Validator, adapt *adapter.Adapter, rec *recovery.Service, log zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		broker:    brokerPort,
		bus:       bus,
		risk:      validator,
		adapter:   adapt,
		recovery:  rec,
		log:       logger.Component(log, "live_trading_service"),
		orders:    make(map[uuid.UUID]*trackedOrder),
		positions: make(map[string]*position.Position),
		strengths: make(map[string][]float64),
	}
}

// Start begins a new session for portfolioID: it attempts to recover prior
// state from the last persisted snapshot, connects the broker, and spawns
// the background reconciliation loops. A broker-connect failure rolls the
// session back to Error with the loops never started (§4.1).
func (s *Service) Start(ctx context.Context, portfolioID uuid.UUID, startingCash decimal.Decimal) error {
	s.mu.Lock()
	if s.sess != nil {
		switch s.sess.Status {
		case session.StatusRunning:
			s.mu.Unlock()
			return session.ErrAlreadyRunning
		case session.StatusLocked:
			s.mu.Unlock()
			return session.ErrLocked
		}
	}
	if s.sess == nil || s.sess.PortfolioID != portfolioID {
		s.restoreOrFresh(portfolioID, startingCash)
	}
	if err := s.sess.BeginStart(); err != nil {
		s.mu.Unlock()
		return err
	}
	sess := s.sess
	s.mu.Unlock()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	defer cancelConnect()
	if err := s.broker.Connect(connectCtx); err != nil {
		s.mu.Lock()
		sess.Fail(fmt.Sprintf("broker connect failed: %v", err))
		s.mu.Unlock()
		return fmt.Errorf("trading: start failed: %w", err)
	}

	if err := s.broker.SubscribeOrderUpdates(ctx, s.handleOrderUpdate); err != nil {
		s.log.Warn().Err(err).Msg("broker does not support an order-update subscription")
	}

	loopsCtx, loopCancel := context.WithCancel(context.Background())
	s.loopCancel = loopCancel
	s.startLoops(loopsCtx)

	s.mu.Lock()
	_ = sess.MarkRunning()
	s.mu.Unlock()

	s.bus.Publish(SessionStartedEvent{PortfolioID: portfolioID, StartedAt: time.Now().UTC()})
	s.log.Info().Str("portfolio_id", portfolioID.String()).Msg("trading session started")
	return nil
}

// Stop cancels active orders best-effort, tears down the background loops,
// disconnects the broker, and transitions the session to Stopped. Stop is
// best-effort throughout: a failure cancelling one order or disconnecting
// the broker is logged and does not prevent the session from stopping.
func (s *Service) Stop(ctx context.Context, reason string) error {
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	if err := sess.BeginStop(); err != nil {
		s.mu.Unlock()
		return err
	}
	portfolioID := sess.PortfolioID
	s.mu.Unlock()

	s.cancelAllOrders(ctx)
	s.stopLoops()

	if err := s.broker.Disconnect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("broker disconnect failed during stop")
	}

	if err := s.recovery.SaveState(s.buildSnapshot()); err != nil {
		s.log.Error().Err(err).Msg("failed to persist state on stop")
	}

	s.mu.Lock()
	_ = sess.MarkStopped()
	s.mu.Unlock()

	s.bus.Publish(SessionStoppedEvent{PortfolioID: portfolioID, Reason: reason, StoppedAt: time.Now().UTC()})
	s.log.Info().Str("reason", reason).Msg("trading session stopped")
	return nil
}

// Pause transitions a Running session to Paused: pending orders are
// cancelled (signals and placeOrder stop being accepted once CanAcceptOrders
// requires Running) but open positions and the background loops keep
// running, unlike Stop and EmergencyStop.
func (s *Service) Pause(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	if err := s.sess.BeginPause(); err != nil {
		s.mu.Unlock()
		return err
	}
	portfolioID := s.sess.PortfolioID
	s.mu.Unlock()

	s.cancelAllOrders(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.MarkPaused(); err != nil {
		return err
	}
	s.bus.Publish(SessionPausedEvent{PortfolioID: portfolioID, Reason: reason, PausedAt: time.Now().UTC()})
	return nil
}

// Resume transitions a Paused session back to Running.
func (s *Service) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ErrNoActiveSession
	}
	if err := s.sess.Resume(); err != nil {
		return err
	}
	s.bus.Publish(SessionResumedEvent{PortfolioID: s.sess.PortfolioID, ResumedAt: time.Now().UTC()})
	return nil
}

// EmergencyStop implements the seven-step procedure of §4.8: lock the
// session (refusing any further placeOrder/signal), cancel every active
// order, optionally flatten open positions, tear down the background
// loops and broker connection, persist a critical snapshot, and publish a
// CRITICAL event. Unlock is the only legal transition out of Locked.
func (s *Service) EmergencyStop(ctx context.Context, reason string, closePositions bool) error {
	s.mu.Lock()
	sess := s.sess
	if sess == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	sess.Lock(reason)
	portfolioID := sess.PortfolioID
	s.mu.Unlock()

	s.cancelAllOrders(ctx)

	if closePositions {
		s.positionsMu.RLock()
		symbols := make([]string, 0, len(s.positions))
		for _, p := range s.positions {
			symbols = append(symbols, p.Symbol)
		}
		s.positionsMu.RUnlock()

		for _, sym := range symbols {
			if err := s.broker.ClosePosition(ctx, sym); err != nil {
				s.log.Error().Err(err).Str("symbol", sym).Msg("failed to close position during emergency stop")
			}
		}
	}

	s.stopLoops()
	if err := s.broker.Disconnect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("broker disconnect failed during emergency stop")
	}

	if err := s.recovery.SaveCritical(s.buildSnapshot(), reason); err != nil {
		s.log.Error().Err(err).Msg("failed to persist critical snapshot")
	}

	s.bus.Publish(EmergencyStopEvent{
		PortfolioID:     portfolioID,
		Reason:          reason,
		Severity:        events.SeverityCritical,
		PositionsClosed: closePositions,
		TriggeredAt:     time.Now().UTC(),
	})
	s.log.Error().Str("reason", reason).Bool("positions_closed", closePositions).Msg("emergency stop triggered")
	return nil
}

// Unlock is the only path out of Locked, transitioning to Stopped and
// clearing the recorded error.
func (s *Service) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ErrNoActiveSession
	}
	if err := s.sess.Unlock(); err != nil {
		return err
	}
	s.bus.Publish(SessionUnlockedEvent{PortfolioID: s.sess.PortfolioID, UnlockedAt: time.Now().UTC()})
	return nil
}

// GetSessionStatus returns the current session status and its recorded
// error message, if any.
func (s *Service) GetSessionStatus() (session.Status, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess == nil {
		return session.StatusStopped, ""
	}
	return s.sess.Status, s.sess.ErrorMsg
}

// GetPositions returns a snapshot of every currently tracked position.
func (s *Service) GetPositions() []position.Position {
	s.positionsMu.RLock()
	defer s.positionsMu.RUnlock()
	out := make([]position.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// GetPortfolioState returns a snapshot of the current portfolio, or
// ok=false if no session has ever been started.
func (s *Service) GetPortfolioState() (snapshot portfolio.Portfolio, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.portfolio == nil {
		return portfolio.Portfolio{}, false
	}
	return *s.portfolio, true
}

// GetRiskSummary returns the operator-facing risk projection for the
// current portfolio.
func (s *Service) GetRiskSummary() risk.Summary {
	return s.risk.Summarize(s.riskSnapshot())
}

// PlaceOrder is the control surface's direct order-submission entry point.
// Unlike the signal pipeline, it performs only the risk-validate-then-
// submit tail (§4.6 steps 8-9); it adds a conflict check against a Locked
// session that the signal path never needs, since a Locked session's
// CanAcceptOrders is already false and the signal loop stops consuming
// before it would ever call in.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*order.Order, error) {
	s.mu.RLock()
	sess := s.sess
	pf := s.portfolio
	s.mu.RUnlock()

	if sess == nil {
		return nil, ErrSessionNotRunning
	}
	if sess.Status == session.StatusLocked {
		return nil, ErrSessionLocked
	}
	if !sess.CanAcceptOrders() {
		return nil, ErrSessionNotRunning
	}

	estimatedPrice := decimal.Zero
	if req.LimitPrice != nil {
		estimatedPrice = *req.LimitPrice
	} else {
		md, err := s.broker.GetMarketData(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("trading: failed to estimate market price: %w", err)
		}
		estimatedPrice = md.LastPrice
	}

	proposed := risk.ProposedOrder{
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Quantity: req.Quantity,
		Price:    estimatedPrice,
		Leverage: req.Leverage,
	}
	result := s.risk.Validate(proposed, s.snapshotForRisk(pf))
	switch result.Action {
	case risk.ActionBlock:
		s.bus.Publish(RiskSignalRejectedEvent{
			Symbol: req.Symbol, Side: string(req.Side), Quantity: req.Quantity,
			Reason: result.Reason, RejectedAt: time.Now().UTC(),
		})
		return nil, fmt.Errorf("%w: %s", ErrRiskBlocked, result.Reason)
	case risk.ActionAdjust:
		if result.Adjustments.Leverage != nil {
			req.Leverage = *result.Adjustments.Leverage
		}
		if result.Adjustments.Quantity != nil {
			req.Quantity = *result.Adjustments.Quantity
		}
	}

	return s.submitOrder(ctx, sess, req, estimatedPrice)
}

// HandleSignal runs the full signal-driven auto-execution pipeline: adapt
// the signal into an order request, validate it against risk, then submit
// (§4.6 steps 1-9). A no-op (nil error, no order) is the normal outcome for
// a signal that auto-execution is disabled for, that fails to clear its
// confidence/strength thresholds, or that the adapter maps to no action.
func (s *Service) HandleSignal(ctx context.Context, sig signal.Signal) error {
	s.mu.RLock()
	sess := s.sess
	pf := s.portfolio
	s.mu.RUnlock()
	if sess == nil || !sess.CanAcceptOrders() {
		return ErrSessionNotRunning
	}
	if !s.cfg.Signal.AutoExecute || !sig.MeetsThresholds(s.cfg.Signal.ConfidenceThreshold, s.cfg.Signal.StrengthThreshold) {
		return nil
	}

	md, err := s.broker.GetMarketData(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("trading: failed to read market data for signal: %w", err)
	}

	state := adapter.PortfolioState{
		AvailableCash:         pf.AvailableCash,
		RecentSignalStrengths: s.recentStrengths(sig.Symbol),
	}
	adapted, ok := s.adapter.Adapt(sig, state, md.LastPrice)
	s.recordStrength(sig.Symbol, sig.Strength)
	if !ok {
		return nil
	}

	price := adapted.Price
	if price.IsZero() {
		price = md.LastPrice
	}

	proposed := risk.ProposedOrder{
		Symbol: adapted.Symbol, Side: adapted.Side, Quantity: adapted.Quantity,
		Price: price, Leverage: adapted.Leverage,
	}
	result := s.risk.Validate(proposed, s.snapshotForRisk(pf))
	switch result.Action {
	case risk.ActionBlock:
		s.bus.Publish(RiskSignalRejectedEvent{
			Symbol: sig.Symbol, Side: adapted.Side, Quantity: adapted.Quantity,
			Reason: result.Reason, RejectedAt: time.Now().UTC(),
		})
		return nil
	case risk.ActionAdjust:
		if result.Adjustments.Quantity != nil {
			adapted.Quantity = *result.Adjustments.Quantity
		}
		if result.Adjustments.Leverage != nil {
			adapted.Leverage = *result.Adjustments.Leverage
		}
	}

	req := PlaceOrderRequest{
		Symbol: adapted.Symbol, Side: order.Side(adapted.Side), Type: orderTypeFrom(adapted.OrderType),
		Quantity: adapted.Quantity, ReduceOnly: adapted.ReduceOnly, Leverage: adapted.Leverage,
	}
	if adapted.OrderType == "LIMIT" {
		p := adapted.Price
		req.LimitPrice = &p
	}

	_, err = s.submitOrder(ctx, sess, req, price)
	return err
}

func orderTypeFrom(adapterOrderType string) order.Type {
	if adapterOrderType == "LIMIT" {
		return order.TypeLimit
	}
	return order.TypeMarket
}

// submitOrder is the shared tail of both entry points: reserve funds,
// submit to the broker, and on submit failure release the reservation
// before returning the error (§7 — "if submit fails after reservation, the
// reservation is released").
func (s *Service) submitOrder(ctx context.Context, sess *session.Session, req PlaceOrderRequest, estimatedPrice decimal.Decimal) (*order.Order, error) {
	ord := order.New(order.Params{
		PortfolioID: sess.PortfolioID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		ReduceOnly:  req.ReduceOnly,
		Leverage:    req.Leverage,
	})

	reserveAmount := requiredReservation(req.Type, req.Quantity, estimatedPrice)
	s.mu.Lock()
	err := s.portfolio.Reserve(ord.ID, reserveAmount)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("trading: reservation failed: %w", err)
	}

	brokerOrderID, err := s.broker.Submit(ctx, toBrokerRequest(ord))
	if err != nil {
		s.mu.Lock()
		s.portfolio.Release(ord.ID)
		s.mu.Unlock()
		_ = ord.Reject(err.Error())
		s.publishPending(ord)
		return nil, fmt.Errorf("trading: broker submit failed: %w", err)
	}
	ord.SetBrokerOrderID(brokerOrderID)

	s.ordersMu.Lock()
	s.orders[ord.ID] = &trackedOrder{ord: ord}
	s.ordersMu.Unlock()

	s.publishPending(ord)
	return ord, nil
}

// requiredReservation computes the cash held against an order's worst-case
// cost: exactly price*qty for a limit order, buffered by
// marketOrderReserveBuffer for a market order whose fill price is not yet
// known (§4.4).
func requiredReservation(t order.Type, qty, price decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	if t == order.TypeMarket {
		return qty.Mul(price).Mul(marketOrderReserveBuffer)
	}
	return qty.Mul(price)
}

func toBrokerRequest(ord *order.Order) broker.OrderRequest {
	req := broker.OrderRequest{
		ClientOrderID: ord.ID.String(),
		Symbol:        ord.Symbol,
		Side:          string(ord.Side),
		Type:          string(ord.Type),
		Quantity:      ord.Quantity,
		TimeInForce:   string(ord.TimeInForce),
		ReduceOnly:    ord.ReduceOnly,
		Leverage:      ord.Leverage,
	}
	if ord.LimitPrice != nil {
		req.Price = *ord.LimitPrice
	}
	if ord.StopPrice != nil {
		req.StopPrice = *ord.StopPrice
	}
	return req
}

// publishPending drains and publishes an order's accumulated domain
// events synchronously within the caller's call stack, so a handler that
// updates portfolio/position state (an ordering-critical handler per §9)
// observes the committed order state before control returns to whoever
// triggered the mutation.
func (s *Service) publishPending(ord *order.Order) {
	for _, e := range ord.PullEvents() {
		s.bus.Publish(e)
	}
}

// CancelOrder cancels an active order by id: broker cancel first, then the
// local aggregate transition and reservation release.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	s.ordersMu.RLock()
	tracked, ok := s.orders[orderID]
	s.ordersMu.RUnlock()
	if !ok {
		return ErrOrderNotActive
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()

	if !tracked.ord.IsActive() {
		return ErrOrderNotActive
	}

	confirmed, err := s.broker.Cancel(ctx, tracked.ord.BrokerOrderID)
	if err != nil {
		return fmt.Errorf("trading: broker cancel failed: %w", err)
	}
	if !confirmed {
		return fmt.Errorf("trading: broker declined cancellation")
	}

	if err := tracked.ord.Cancel("cancelled by operator"); err != nil {
		return err
	}
	s.mu.Lock()
	s.portfolio.Release(tracked.ord.ID)
	s.mu.Unlock()
	s.publishPending(tracked.ord)
	return nil
}

// cancelAllOrders cancels every active order concurrently, used by both
// Stop and EmergencyStop. Per-order failures are logged, never aborting
// the remaining cancellations.
func (s *Service) cancelAllOrders(ctx context.Context) {
	s.ordersMu.RLock()
	tracked := make([]*trackedOrder, 0, len(s.orders))
	for _, t := range s.orders {
		tracked = append(tracked, t)
	}
	s.ordersMu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range tracked {
		wg.Add(1)
		go func(t *trackedOrder) {
			defer wg.Done()
			t.mu.Lock()
			defer t.mu.Unlock()

			if !t.ord.IsActive() {
				return
			}
			if _, err := s.broker.Cancel(ctx, t.ord.BrokerOrderID); err != nil {
				s.log.Warn().Err(err).Str("order_id", t.ord.ID.String()).Msg("failed to cancel order")
				return
			}
			if err := t.ord.Cancel("session stopping"); err != nil {
				return
			}
			s.mu.Lock()
			s.portfolio.Release(t.ord.ID)
			s.mu.Unlock()
			s.publishPending(t.ord)
		}(t)
	}
	wg.Wait()
}

func (s *Service) recentStrengths(symbol string) []float64 {
	s.strengthsMu.Lock()
	defer s.strengthsMu.Unlock()
	out := make([]float64, len(s.strengths[symbol]))
	copy(out, s.strengths[symbol])
	return out
}

func (s *Service) recordStrength(symbol string, strength decimal.Decimal) {
	s.strengthsMu.Lock()
	defer s.strengthsMu.Unlock()
	f, _ := strength.Float64()
	hist := append(s.strengths[symbol], f)
	if len(hist) > 20 {
		hist = hist[len(hist)-20:]
	}
	s.strengths[symbol] = hist
}

// handleOrderUpdate is the broker's asynchronous order-update callback,
// registered via SubscribeOrderUpdates. It locates the matching tracked
// order by broker or client id and applies the update under that order's
// own lock, so a concurrent operator cancel serializes against it instead
// of racing it.
func (s *Service) handleOrderUpdate(update broker.OrderUpdate) {
	s.ordersMu.RLock()
	var tracked *trackedOrder
	for id, t := range s.orders {
		t.mu.Lock()
		if t.ord.BrokerOrderID == update.BrokerOrderID || id.String() == update.ClientOrderID {
			tracked = t
			t.mu.Unlock()
			break
		}
		t.mu.Unlock()
	}
	s.ordersMu.RUnlock()
	if tracked == nil {
		s.log.Warn().Str("broker_order_id", update.BrokerOrderID).Msg("order update for unknown order")
		return
	}

	tracked.mu.Lock()
	s.applyBrokerStatus(tracked.ord, broker.OrderStatus{
		BrokerOrderID:    update.BrokerOrderID,
		ClientOrderID:    update.ClientOrderID,
		Status:           update.Status,
		FilledQuantity:   update.CumulativeFilled,
		AverageFillPrice: update.FillPrice,
	})
	s.publishPending(tracked.ord)
	tracked.mu.Unlock()
}

// applyBrokerStatus advances ord according to a broker-reported status,
// translated through the core's own status vocabulary (§4.7). Callers must
// already hold ord's trackedOrder lock.
func (s *Service) applyBrokerStatus(ord *order.Order, status broker.OrderStatus) {
	translated := broker.TranslateStatus(status.Status)

	switch translated {
	case order.StatusFilled, order.StatusPartiallyFilled:
		delta := status.FilledQuantity.Sub(ord.FilledQuantity)
		if delta.Sign() <= 0 {
			return
		}
		var err error
		if translated == order.StatusFilled {
			err = ord.Fill(status.AverageFillPrice, time.Now().UTC())
		} else {
			err = ord.PartialFill(delta, status.AverageFillPrice, time.Now().UTC())
		}
		if err != nil {
			s.log.Warn().Err(err).Str("order_id", ord.ID.String()).Msg("failed to apply fill")
			return
		}
		s.onOrderFilled(ord, delta, status.AverageFillPrice)

	case order.StatusCancelled, order.StatusCancelledConfirmed:
		if !ord.IsActive() {
			return
		}
		if err := ord.CancelByBroker("broker reported cancellation"); err != nil {
			s.log.Warn().Err(err).Str("order_id", ord.ID.String()).Msg("failed to apply broker cancellation")
			return
		}
		s.mu.Lock()
		s.portfolio.Release(ord.ID)
		s.mu.Unlock()

	case order.StatusRejected:
		if ord.Status != order.StatusPending {
			return
		}
		if err := ord.Reject("rejected by broker"); err != nil {
			s.log.Warn().Err(err).Str("order_id", ord.ID.String()).Msg("failed to apply broker rejection")
			return
		}
		s.mu.Lock()
		s.portfolio.Release(ord.ID)
		s.mu.Unlock()
	}
}

// onOrderFilled routes a fill delta into the portfolio's reservation
// accounting and the appropriate position: a reduce-only order reduces (or
// closes) the opposite-side position and realizes PnL, while a regular
// order opens or adds to the same-side position. Callers must already hold
// ord's trackedOrder lock.
func (s *Service) onOrderFilled(ord *order.Order, deltaQty, fillPrice decimal.Decimal) {
	// CompleteFill takes a fraction of the reservation still held, which
	// covers the quantity that was unfilled before this fill.
	unfilledBefore := ord.Quantity.Sub(ord.FilledQuantity).Add(deltaQty)
	if unfilledBefore.Sign() > 0 {
		fraction := deltaQty.Div(unfilledBefore)
		s.mu.Lock()
		if err := s.portfolio.CompleteFill(ord.ID, fraction, deltaQty, fillPrice); err != nil {
			s.log.Warn().Err(err).Str("order_id", ord.ID.String()).Msg("failed to settle reservation on fill")
		}
		s.mu.Unlock()
	}

	s.positionsMu.Lock()
	defer s.positionsMu.Unlock()

	if ord.ReduceOnly {
		oppositeSide := string(order.SideBuy)
		if ord.Side == order.SideBuy {
			oppositeSide = string(order.SideSell)
		}
		key := positionKey(ord.Symbol, oppositeSide)
		p, ok := s.positions[key]
		if !ok {
			s.log.Warn().Str("symbol", ord.Symbol).Msg("reduce-only fill with no matching position")
			return
		}

		before := p.RealizedPnL
		reduceQty := deltaQty
		if reduceQty.GreaterThan(p.Quantity) {
			reduceQty = p.Quantity
		}
		if err := p.ReduceQuantity(reduceQty, fillPrice); err != nil {
			s.log.Warn().Err(err).Str("symbol", ord.Symbol).Msg("failed to reduce position")
			return
		}
		realizedDelta := p.RealizedPnL.Sub(before)

		s.mu.Lock()
		s.portfolio.ApplyRealizedPnL(realizedDelta)
		s.mu.Unlock()
		s.risk.RecordRealizedPnL(ord.PortfolioID, realizedDelta)

		if !p.Open {
			delete(s.positions, key)
			s.mu.Lock()
			s.portfolio.UnlinkPosition(p.Symbol, string(p.Side))
			s.mu.Unlock()
		}

		s.bus.Publish(PositionUpdatedEvent{
			Symbol: p.Symbol, Side: string(p.Side), Quantity: p.Quantity,
			UnrealizedPnL: p.UnrealizedPnL, UpdatedAt: time.Now().UTC(),
		})
		return
	}

	side := position.SideLong
	if ord.Side == order.SideSell {
		side = position.SideShort
	}
	key := positionKey(ord.Symbol, string(side))
	p, ok := s.positions[key]
	if !ok {
		margin := decimal.Zero
		if ord.Leverage > 0 {
			margin = deltaQty.Mul(fillPrice).Div(decimal.NewFromInt(int64(ord.Leverage)))
		}
		p = position.Open(ord.PortfolioID, ord.Symbol, side, deltaQty, fillPrice, margin, ord.Leverage)
		s.positions[key] = p
		s.mu.Lock()
		s.portfolio.LinkPosition(ord.Symbol, string(side), p.ID)
		s.mu.Unlock()
	} else {
		p.IncreaseQuantity(deltaQty, fillPrice)
	}

	s.bus.Publish(PositionUpdatedEvent{
		Symbol: p.Symbol, Side: string(p.Side), Quantity: p.Quantity,
		UnrealizedPnL: p.UnrealizedPnL, UpdatedAt: time.Now().UTC(),
	})
}

func positionKey(symbol, side string) string {
	return symbol + ":" + side
}

// riskSnapshot assembles a fresh risk.PortfolioSnapshot from current state.
func (s *Service) riskSnapshot() risk.PortfolioSnapshot {
	s.mu.RLock()
	pf := s.portfolio
	s.mu.RUnlock()
	return s.snapshotForRisk(pf)
}

func (s *Service) snapshotForRisk(pf *portfolio.Portfolio) risk.PortfolioSnapshot {
	s.positionsMu.RLock()
	exposures := make([]risk.PositionExposure, 0, len(s.positions))
	for _, p := range s.positions {
		exposures = append(exposures, risk.PositionExposure{Symbol: p.Symbol, Value: p.Notional()})
	}
	s.positionsMu.RUnlock()

	snapshot := risk.PortfolioSnapshot{Positions: exposures}
	if pf == nil {
		return snapshot
	}

	s.mu.RLock()
	peak := s.peakEquity
	s.mu.RUnlock()
	if peak.IsZero() {
		peak = pf.TotalEquity
	}

	snapshot.PortfolioID = pf.ID
	snapshot.AvailableCash = pf.AvailableCash
	snapshot.MarginUsed = pf.TotalReserved()
	snapshot.TotalEquity = pf.TotalEquity
	snapshot.PeakEquity = peak
	return snapshot
}

// restoreOrFresh attempts to recover prior state for portfolioID from the
// last persisted snapshot, falling back to a freshly-funded session and
// portfolio when recovery finds nothing usable (§4.9).
func (s *Service) restoreOrFresh(portfolioID uuid.UUID, startingCash decimal.Decimal) {
	snap, err := s.recovery.RecoverState()
	if err != nil {
		s.log.Warn().Err(err).Msg("state recovery failed, starting fresh")
	}
	if snap != nil && snap.PortfolioID != nil && *snap.PortfolioID == portfolioID {
		s.restoreFromSnapshot(*snap)
		s.log.Info().Str("portfolio_id", portfolioID.String()).Msg("restored state from snapshot")
		return
	}

	s.sess = session.New(portfolioID)
	s.portfolio = portfolio.New(portfolioID, startingCash)
	s.peakEquity = startingCash
}

// restoreFromSnapshot rehydrates session, order and position state from a
// recovered snapshot. Reservations are not replayed: the portfolio reopens
// with zero cash reserved, since the recovered snapshot carries no per-
// order reservation ledger to replay against — subsequent reconciliation
// and fresh placeOrder calls re-establish accurate reservations going
// forward.
func (s *Service) restoreFromSnapshot(snap recovery.StateSnapshot) {
	pid := *snap.PortfolioID
	sess := session.New(pid)
	if snap.Session != nil {
		sess.ID = snap.Session.ID
		sess.ErrorMsg = snap.Session.ErrorMsg
	}
	s.sess = sess
	s.portfolio = portfolio.New(pid, decimal.Zero)
	s.peakEquity = decimal.Zero

	s.ordersMu.Lock()
	for id, os := range snap.ActiveOrders {
		ord := order.New(order.Params{
			PortfolioID: os.PortfolioID,
			Symbol:      os.Symbol,
			Side:        os.Side,
			Type:        os.Type,
			Quantity:    os.Quantity,
		})
		ord.ID = id
		ord.BrokerOrderID = os.BrokerOrderID
		ord.Status = os.Status
		ord.FilledQuantity = os.FilledQuantity
		ord.AverageFillPrice = os.AverageFillPrice
		ord.PullEvents() // discard the synthetic OrderPlaced: this restores, it does not place
		s.orders[id] = &trackedOrder{ord: ord}
	}
	s.ordersMu.Unlock()

	s.positionsMu.Lock()
	for key, ps := range snap.ActivePositions {
		p := position.Open(ps.PortfolioID, ps.Symbol, ps.Side, ps.Quantity, ps.EntryPrice, decimal.Zero, ps.Leverage)
		p.ID = ps.ID
		p.MarkPrice = ps.MarkPrice
		p.UnrealizedPnL = ps.UnrealizedPnL
		p.RealizedPnL = ps.RealizedPnL
		p.LiquidationPrice = ps.LiquidationPrice
		s.positions[key] = p
		s.portfolio.LinkPosition(p.Symbol, string(p.Side), p.ID)
	}
	s.positionsMu.Unlock()
}

// buildSnapshot assembles a StateSnapshot reflecting the current in-memory
// state, for either the periodic snapshot loop or a stop/emergency save.
func (s *Service) buildSnapshot() recovery.StateSnapshot {
	s.mu.RLock()
	sess := s.sess
	pf := s.portfolio
	s.mu.RUnlock()

	snap := recovery.StateSnapshot{
		Timestamp:       time.Now().UTC(),
		ActiveOrders:    make(map[uuid.UUID]recovery.OrderSnapshot),
		ActivePositions: make(map[string]recovery.PositionSnapshot),
	}

	if pf != nil {
		pid := pf.ID
		snap.PortfolioID = &pid
	}

	if sess != nil {
		snap.Session = &recovery.SessionSnapshot{
			ID:          sess.ID,
			PortfolioID: sess.PortfolioID,
			Status:      sess.Status,
			ErrorMsg:    sess.ErrorMsg,
			UpdatedAt:   sess.UpdatedAt,
		}
		if !sess.StartedAt.IsZero() {
			st := sess.StartedAt
			snap.Session.StartedAt = &st
		}
	}

	s.ordersMu.RLock()
	for id, t := range s.orders {
		t.mu.Lock()
		if t.ord.IsActive() {
			snap.ActiveOrders[id] = recovery.OrderSnapshot{
				ID: t.ord.ID, BrokerOrderID: t.ord.BrokerOrderID, PortfolioID: t.ord.PortfolioID,
				Symbol: t.ord.Symbol, Side: t.ord.Side, Type: t.ord.Type, Status: t.ord.Status,
				Quantity: t.ord.Quantity, FilledQuantity: t.ord.FilledQuantity,
				AverageFillPrice: t.ord.AverageFillPrice, CreatedAt: t.ord.CreatedAt, UpdatedAt: t.ord.UpdatedAt,
			}
		}
		t.mu.Unlock()
	}
	s.ordersMu.RUnlock()

	s.positionsMu.RLock()
	for key, p := range s.positions {
		snap.ActivePositions[key] = recovery.PositionSnapshot{
			ID: p.ID, PortfolioID: p.PortfolioID, Symbol: p.Symbol, Side: p.Side,
			Quantity: p.Quantity, EntryPrice: p.EntryPrice, MarkPrice: p.MarkPrice,
			Leverage: p.Leverage, UnrealizedPnL: p.UnrealizedPnL, RealizedPnL: p.RealizedPnL,
			LiquidationPrice: p.LiquidationPrice, UpdatedAt: p.UpdatedAt,
		}
		snap.MonitoredSymbols = append(snap.MonitoredSymbols, p.Symbol)
	}
	s.positionsMu.RUnlock()

	if pf != nil {
		summary := s.risk.Summarize(s.snapshotForRisk(pf))
		snap.RiskMetrics = map[string]string{
			"exposure_percent":   summary.ExposurePercent.String(),
			"daily_loss_percent": summary.DailyLossPercent.String(),
			"drawdown_percent":   summary.DrawdownPercent.String(),
			"risk_level":         string(summary.RiskLevel),
		}
	}

	return snap
}
