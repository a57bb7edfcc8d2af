// Package mockbroker is a deterministic in-memory Broker Port driver used
// by tests and by paper-trading mode. Unlike the original mock broker it
// replaces, it never sleeps or uses randomness on the submission path;
// deterministic behavior is driven explicitly via Fill/Reject helpers so
// tests control timing themselves.
package mockbroker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/broker"
)

type orderRecord struct {
	req              broker.OrderRequest
	status           string // NEW, PARTIALLY_FILLED, FILLED, CANCELED, REJECTED
	filledQuantity   decimal.Decimal
	averageFillPrice decimal.Decimal
}

// Broker is an in-memory, single-process Port implementation.
type Broker struct {
	mu     sync.Mutex
	orders map[string]*orderRecord
	seq    uint64

	positions map[string]broker.PositionInfo
	balance   broker.AccountBalance
	prices    map[string]decimal.Decimal

	connected bool

	orderHandlers  []broker.OrderUpdateHandler
	marketHandlers []broker.MarketDataHandler
}

// New constructs a Broker seeded with the given starting balance.
func New(startingBalance decimal.Decimal) *Broker {
	return &Broker{
		orders:    make(map[string]*orderRecord),
		positions: make(map[string]broker.PositionInfo),
		prices:    make(map[string]decimal.Decimal),
		balance: broker.AccountBalance{
			AvailableBalance: startingBalance,
			TotalBalance:     startingBalance,
		},
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Broker) Submit(ctx context.Context, order broker.OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return "", broker.NewError(broker.KindNetwork, "not connected", true, nil)
	}
	if order.Quantity.Sign() <= 0 {
		return "", broker.NewError(broker.KindValidation, "quantity must be positive", false, nil)
	}

	id := atomic.AddUint64(&b.seq, 1)
	brokerOrderID := fmt.Sprintf("MOCK-%08d", id)
	b.orders[brokerOrderID] = &orderRecord{req: order, status: "NEW"}
	return brokerOrderID, nil
}

func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.orders[brokerOrderID]
	if !ok {
		return false, broker.ErrOrderNotFound
	}
	if rec.status == "FILLED" {
		return false, nil
	}
	rec.status = "CANCELED"
	// Delivered on its own goroutine, outside b.mu, as a stream update
	// arrives: Cancel's caller may hold a lock its update handler takes.
	update := broker.OrderUpdate{BrokerOrderID: brokerOrderID, ClientOrderID: rec.req.ClientOrderID,
		Symbol: rec.req.Symbol, Status: rec.status, FilledQuantity: rec.filledQuantity,
		FillPrice: rec.averageFillPrice, CumulativeFilled: rec.filledQuantity}
	handlers := append([]broker.OrderUpdateHandler(nil), b.orderHandlers...)
	go func() {
		for _, h := range handlers {
			h(update)
		}
	}()
	return true, nil
}

func (b *Broker) Modify(ctx context.Context, brokerOrderID string, newQty, newPrice *decimal.Decimal) (bool, error) {
	// Implemented as cancel + resubmit per the port's documented allowance.
	b.mu.Lock()
	rec, ok := b.orders[brokerOrderID]
	if !ok {
		b.mu.Unlock()
		return false, broker.ErrOrderNotFound
	}
	req := rec.req
	rec.status = "CANCELED"
	b.mu.Unlock()

	if newQty != nil {
		req.Quantity = *newQty
	}
	if newPrice != nil {
		req.Price = *newPrice
	}
	_, err := b.Submit(ctx, req)
	return err == nil, err
}

func (b *Broker) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.orders[brokerOrderID]
	if !ok {
		return broker.OrderStatus{}, broker.ErrOrderNotFound
	}
	return broker.OrderStatus{
		BrokerOrderID:    brokerOrderID,
		ClientOrderID:    rec.req.ClientOrderID,
		Status:           rec.status,
		FilledQuantity:   rec.filledQuantity,
		AverageFillPrice: rec.averageFillPrice,
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.PositionInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.PositionInfo, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) GetPosition(ctx context.Context, symbol string) (broker.PositionInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		return broker.PositionInfo{}, broker.ErrOrderNotFound
	}
	return p, nil
}

// ClosePosition flattens symbol by submitting a reduce-only market order for
// the opposite side, the same pattern the binancefutures driver uses against
// the real exchange. The order is filled immediately: there is no user-data
// stream here to report the fill back asynchronously, so ClosePosition must
// resolve deterministically within the call.
func (b *Broker) ClosePosition(ctx context.Context, symbol string) error {
	b.mu.Lock()
	pos, ok := b.positions[symbol]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	side := "sell"
	if pos.Side == "short" {
		side = "buy"
	}

	brokerOrderID, err := b.Submit(ctx, broker.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       "market",
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return err
	}
	return b.Fill(brokerOrderID, decimal.Zero)
}

func (b *Broker) GetMarketData(ctx context.Context, symbol string) (broker.MarketData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[symbol]
	if !ok {
		return broker.MarketData{}, broker.NewError(broker.KindValidation, "no price set for "+symbol, false, nil)
	}
	return broker.MarketData{Symbol: symbol, LastPrice: price, BidPrice: price, AskPrice: price}, nil
}

func (b *Broker) GetAccountBalance(ctx context.Context) (broker.AccountBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

func (b *Broker) SubscribeMarketData(ctx context.Context, symbols []string, handler broker.MarketDataHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marketHandlers = append(b.marketHandlers, handler)
	return nil
}

func (b *Broker) SubscribeOrderUpdates(ctx context.Context, handler broker.OrderUpdateHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderHandlers = append(b.orderHandlers, handler)
	return nil
}

// SetPrice sets the mock last-traded price for symbol, used by GetMarketData
// and by Fill (when fillPrice is zero, the set price is used instead).
func (b *Broker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// Fill deterministically fills brokerOrderID at fillPrice (or the order's
// own limit price, or the symbol's set price, in that preference order),
// publishing an order-update to subscribers. Intended for tests and
// paper-trading simulation, replacing the original's randomized
// background fill timer with an explicit, caller-driven trigger.
func (b *Broker) Fill(brokerOrderID string, fillPrice decimal.Decimal) error {
	b.mu.Lock()
	rec, ok := b.orders[brokerOrderID]
	if !ok {
		b.mu.Unlock()
		return broker.ErrOrderNotFound
	}
	if rec.status == "CANCELED" || rec.status == "REJECTED" || rec.status == "FILLED" {
		b.mu.Unlock()
		return broker.NewError(broker.KindValidation, "order not fillable in status "+rec.status, false, nil)
	}

	if fillPrice.IsZero() {
		fillPrice = rec.req.Price
	}
	if fillPrice.IsZero() {
		fillPrice = b.prices[rec.req.Symbol]
	}

	rec.status = "FILLED"
	rec.filledQuantity = rec.req.Quantity
	rec.averageFillPrice = fillPrice
	b.applyFillToPositionLocked(rec)
	b.notifyOrderLocked(brokerOrderID, rec)
	b.mu.Unlock()
	return nil
}

// applyFillToPositionLocked updates the broker's own position book to
// reflect a completed fill, mirroring the bookkeeping a real exchange
// performs server-side. Callers must already hold b.mu.
func (b *Broker) applyFillToPositionLocked(rec *orderRecord) {
	symbol := rec.req.Symbol
	qty := rec.filledQuantity
	price := rec.averageFillPrice

	if rec.req.ReduceOnly {
		pos, ok := b.positions[symbol]
		if !ok {
			return
		}
		pos.Quantity = pos.Quantity.Sub(qty)
		if pos.Quantity.Sign() <= 0 {
			delete(b.positions, symbol)
			return
		}
		b.positions[symbol] = pos
		return
	}

	side := "long"
	if rec.req.Side == "sell" {
		side = "short"
	}

	pos, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = broker.PositionInfo{
			Symbol: symbol, Side: side, Quantity: qty,
			EntryPrice: price, MarkPrice: price, Leverage: rec.req.Leverage,
		}
		return
	}

	priorNotional := pos.EntryPrice.Mul(pos.Quantity)
	addedNotional := price.Mul(qty)
	newQty := pos.Quantity.Add(qty)
	if newQty.Sign() != 0 {
		pos.EntryPrice = priorNotional.Add(addedNotional).Div(newQty)
	}
	pos.Quantity = newQty
	b.positions[symbol] = pos
}

// Reject deterministically rejects brokerOrderID, notifying subscribers.
func (b *Broker) Reject(brokerOrderID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.orders[brokerOrderID]
	if !ok {
		return broker.ErrOrderNotFound
	}
	rec.status = "REJECTED"
	b.notifyOrderLocked(brokerOrderID, rec)
	return nil
}

func (b *Broker) notifyOrderLocked(brokerOrderID string, rec *orderRecord) {
	update := broker.OrderUpdate{
		BrokerOrderID:    brokerOrderID,
		ClientOrderID:    rec.req.ClientOrderID,
		Symbol:           rec.req.Symbol,
		Status:           rec.status,
		FilledQuantity:   rec.filledQuantity,
		FillPrice:        rec.averageFillPrice,
		CumulativeFilled: rec.filledQuantity,
	}
	for _, h := range b.orderHandlers {
		h(update)
	}
}
