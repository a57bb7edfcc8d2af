// Package broker defines the Broker Port: the abstract contract the live
// trading core uses to talk to any futures exchange, plus the typed errors
// every driver must translate its failures into.
package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest is what the core submits to a driver. Side/Type/TimeInForce
// mirror the order aggregate's own vocabulary so drivers do not need a
// second enum set.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   string
	ReduceOnly    bool
	Leverage      int
}

// OrderStatus is the broker-reported state of a submitted order. Status
// holds the broker-native status string; the core maps it onto its own
// vocabulary with TranslateStatus (§4.7: NEW→Pending,
// PARTIALLY_FILLED→PartiallyFilled, FILLED→Filled, CANCELED/EXPIRED→
// Cancelled, REJECTED→Rejected).
type OrderStatus struct {
	BrokerOrderID    string
	ClientOrderID    string
	Status           string
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
}

// PositionInfo is a broker-reported open position.
type PositionInfo struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
	MarginUsed    decimal.Decimal
}

// MarketData is a point-in-time price/volume read for one symbol.
type MarketData struct {
	Symbol    string
	LastPrice decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Volume24h decimal.Decimal
}

// AccountBalance is the broker's authoritative cash/margin view.
type AccountBalance struct {
	AvailableBalance decimal.Decimal
	TotalBalance     decimal.Decimal
	TotalMarginUsed  decimal.Decimal
}

// OrderUpdate is an asynchronous user-data stream event, delivered to a
// subscriber registered via SubscribeOrderUpdates.
type OrderUpdate struct {
	BrokerOrderID    string
	ClientOrderID    string
	Symbol           string
	Status           string
	FilledQuantity   decimal.Decimal
	FillPrice        decimal.Decimal
	CumulativeFilled decimal.Decimal
}

// MarketDataHandler receives streamed ticks for subscribed symbols.
type MarketDataHandler func(MarketData)

// OrderUpdateHandler receives streamed order lifecycle updates.
type OrderUpdateHandler func(OrderUpdate)

// Port is the abstract contract over a futures exchange. A driver rounds
// quantity/price to the symbol's step/tick size, validates min qty/notional
// locally, and retries idempotently on transient failures before
// propagating a typed Error.
type Port interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Submit(ctx context.Context, order OrderRequest) (brokerOrderID string, err error)
	Cancel(ctx context.Context, brokerOrderID string) (bool, error)
	// Modify may be implemented as cancel+resubmit; callers must treat the
	// original brokerOrderID as potentially invalid afterward.
	Modify(ctx context.Context, brokerOrderID string, newQty, newPrice *decimal.Decimal) (bool, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error)

	GetPositions(ctx context.Context) ([]PositionInfo, error)
	GetPosition(ctx context.Context, symbol string) (PositionInfo, error)
	ClosePosition(ctx context.Context, symbol string) error

	GetMarketData(ctx context.Context, symbol string) (MarketData, error)
	GetAccountBalance(ctx context.Context) (AccountBalance, error)

	SubscribeMarketData(ctx context.Context, symbols []string, handler MarketDataHandler) error
	SubscribeOrderUpdates(ctx context.Context, handler OrderUpdateHandler) error
}
