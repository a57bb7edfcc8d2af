// Package recovery persists and restores trading state across process
// restarts: active orders, open positions, session status, and risk
// metrics, written atomically so a crash mid-write never corrupts the
// file a subsequent restart reads back.
package recovery

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/domain/order"
	"github.com/aristath/tradingcore/internal/domain/position"
	"github.com/aristath/tradingcore/internal/domain/session"
)

// OrderSnapshot is the serializable projection of an order aggregate.
type OrderSnapshot struct {
	ID               uuid.UUID       `json:"id"`
	BrokerOrderID    string          `json:"broker_order_id"`
	PortfolioID      uuid.UUID       `json:"portfolio_id"`
	Symbol           string          `json:"symbol"`
	Side             order.Side      `json:"side"`
	Type             order.Type      `json:"type"`
	Status           order.Status    `json:"status"`
	Quantity         decimal.Decimal `json:"quantity"`
	FilledQuantity   decimal.Decimal `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PositionSnapshot is the serializable projection of an open position.
type PositionSnapshot struct {
	ID               uuid.UUID       `json:"id"`
	PortfolioID      uuid.UUID       `json:"portfolio_id"`
	Symbol           string          `json:"symbol"`
	Side             position.Side   `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	Leverage         int             `json:"leverage"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SessionSnapshot is the serializable projection of a trading session.
type SessionSnapshot struct {
	ID          uuid.UUID       `json:"id"`
	PortfolioID uuid.UUID       `json:"portfolio_id"`
	Status      session.Status  `json:"status"`
	ErrorMsg    string          `json:"error_message,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StateSnapshot is a point-in-time capture of everything needed to resume
// a trading session after a restart or crash.
type StateSnapshot struct {
	Timestamp        time.Time                   `json:"timestamp"`
	Session          *SessionSnapshot             `json:"session,omitempty"`
	ActiveOrders     map[uuid.UUID]OrderSnapshot  `json:"active_orders"`
	ActivePositions  map[string]PositionSnapshot  `json:"active_positions"`
	MonitoredSymbols []string                     `json:"monitored_symbols"`
	PortfolioID      *uuid.UUID                   `json:"portfolio_id,omitempty"`
	RiskMetrics      map[string]string            `json:"risk_metrics,omitempty"`
	Metadata         map[string]string            `json:"metadata,omitempty"`
}

// Age returns how long ago the snapshot was taken, relative to now.
func (s StateSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
