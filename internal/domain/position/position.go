// Package position implements the Position value object: a portfolio's
// open (or closed) exposure to one symbol on one side.
package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of exposure.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position tracks one open (or historically closed) directional exposure.
type Position struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	Symbol      string
	Side        Side

	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Leverage      int
	MarginUsed    decimal.Decimal

	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal

	LiquidationPrice decimal.Decimal

	Open      bool
	OpenedAt  time.Time
	ClosedAt  *time.Time
	UpdatedAt time.Time
}

// Open constructs a new open position.
func Open(portfolioID uuid.UUID, symbol string, side Side, quantity, entryPrice, marginUsed decimal.Decimal, leverage int) *Position {
	now := time.Now().UTC()
	p := &Position{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		EntryPrice:  entryPrice,
		MarkPrice:   entryPrice,
		Leverage:    leverage,
		MarginUsed:  marginUsed,
		Open:        true,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	p.LiquidationPrice = p.estimateLiquidationPrice()
	return p
}

// ApplyMark refreshes MarkPrice and recomputes unrealized PnL and the
// liquidation price estimate from current mark.
func (p *Position) ApplyMark(markPrice decimal.Decimal) {
	p.MarkPrice = markPrice
	p.UnrealizedPnL = p.unrealizedPnLAt(markPrice)
	p.LiquidationPrice = p.estimateLiquidationPrice()
	p.UpdatedAt = time.Now().UTC()
}

// IncreaseQuantity adds to the position at a new fill price, recomputing a
// quantity-weighted average entry price.
func (p *Position) IncreaseQuantity(addQty, fillPrice decimal.Decimal) {
	priorNotional := p.EntryPrice.Mul(p.Quantity)
	addedNotional := fillPrice.Mul(addQty)
	newQty := p.Quantity.Add(addQty)

	if newQty.Sign() != 0 {
		p.EntryPrice = priorNotional.Add(addedNotional).Div(newQty)
	}
	p.Quantity = newQty
	p.LiquidationPrice = p.estimateLiquidationPrice()
	p.UpdatedAt = time.Now().UTC()
}

// ReduceQuantity reduces the position by qty at exitPrice, realizing PnL on
// the reduced portion. If the reduction brings quantity to zero, the
// position is marked closed.
func (p *Position) ReduceQuantity(qty, exitPrice decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	if qty.GreaterThan(p.Quantity) {
		return ErrReduceExceedsQuantity
	}

	realized := p.directionalDelta(exitPrice).Mul(qty)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Quantity = p.Quantity.Sub(qty)

	if p.Quantity.IsZero() {
		now := time.Now().UTC()
		p.Open = false
		p.ClosedAt = &now
		p.UnrealizedPnL = decimal.Zero
	} else {
		p.LiquidationPrice = p.estimateLiquidationPrice()
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Notional returns the position's current notional value at mark price.
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.MarkPrice).Abs()
}

func (p *Position) unrealizedPnLAt(markPrice decimal.Decimal) decimal.Decimal {
	return p.directionalDelta(markPrice).Mul(p.Quantity)
}

// directionalDelta returns (price - entry) for long, (entry - price) for short.
func (p *Position) directionalDelta(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price)
	}
	return price.Sub(p.EntryPrice)
}

// estimateLiquidationPrice approximates the mark price at which margin is
// fully consumed by unrealized loss: entry * (1 -/+ 1/leverage) for
// long/short respectively. A conservative estimate, not an exchange-exact
// figure — the broker's own margin engine is authoritative.
func (p *Position) estimateLiquidationPrice() decimal.Decimal {
	if p.Leverage <= 0 {
		return decimal.Zero
	}
	inverseLeverage := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(p.Leverage)))
	if p.Side == SideShort {
		return p.EntryPrice.Mul(decimal.NewFromInt(1).Add(inverseLeverage))
	}
	return p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(inverseLeverage))
}
