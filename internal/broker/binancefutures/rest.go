package binancefutures

import (
	"context"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/broker"
)

// exchangeInfoResponse mirrors the subset of Binance's /fapi/v1/exchangeInfo
// payload the driver needs: per-symbol step/tick/min-qty/min-notional
// filters.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			TickSize    string `json:"tickSize"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			Notional    string `json:"notional"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (d *Driver) loadExchangeInfo(ctx context.Context) error {
	raw, err := d.signedRequest(ctx, "GET", "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}

	var resp exchangeInfoResponse
	if err := decodeJSON(raw, &resp); err != nil {
		return broker.NewError(broker.KindExchange, "failed to parse exchange info", false, err)
	}

	symbols := make(map[string]SymbolInfo, len(resp.Symbols))
	for _, s := range resp.Symbols {
		info := SymbolInfo{}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				info.StepSize = parseDecimalOrZero(f.StepSize)
				info.MinQty = parseDecimalOrZero(f.MinQty)
				info.MaxQty = parseDecimalOrZero(f.MaxQty)
			case "PRICE_FILTER":
				info.TickSize = parseDecimalOrZero(f.TickSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				if f.MinNotional != "" {
					info.MinNotional = parseDecimalOrZero(f.MinNotional)
				} else {
					info.MinNotional = parseDecimalOrZero(f.Notional)
				}
			}
		}
		symbols[s.Symbol] = info
	}

	d.symbolMu.Lock()
	d.symbols = symbols
	d.symbolMu.Unlock()
	return nil
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (d *Driver) Submit(ctx context.Context, req broker.OrderRequest) (string, error) {
	rounded, err := d.roundForSubmit(req)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("symbol", rounded.Symbol)
	params.Set("side", restSide(rounded.Side))
	params.Set("type", restOrderType(rounded.Type))
	params.Set("quantity", rounded.Quantity.String())
	if rounded.Price.Sign() > 0 {
		params.Set("price", rounded.Price.String())
	}
	if rounded.StopPrice.Sign() > 0 {
		params.Set("stopPrice", rounded.StopPrice.String())
	}
	if rounded.TimeInForce != "" {
		params.Set("timeInForce", rounded.TimeInForce)
	}
	if rounded.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if rounded.ClientOrderID != "" {
		params.Set("newClientOrderId", rounded.ClientOrderID)
	}

	raw, err := d.signedRequest(ctx, "POST", "/fapi/v1/order", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return "", broker.NewError(broker.KindExchange, "failed to parse submit response", false, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (d *Driver) Cancel(ctx context.Context, brokerOrderID string) (bool, error) {
	params := url.Values{"orderId": {brokerOrderID}}
	_, err := d.signedRequest(ctx, "DELETE", "/fapi/v1/order", params)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Modify is implemented as cancel+resubmit, matching the Port's documented
// allowance; Binance futures orders have no in-place amend endpoint.
func (d *Driver) Modify(ctx context.Context, brokerOrderID string, newQty, newPrice *decimal.Decimal) (bool, error) {
	status, err := d.GetOrderStatus(ctx, brokerOrderID)
	if err != nil {
		return false, err
	}

	if _, err := d.Cancel(ctx, brokerOrderID); err != nil {
		return false, err
	}

	req := broker.OrderRequest{
		ClientOrderID: status.ClientOrderID,
		Quantity:      status.FilledQuantity,
	}
	if newQty != nil {
		req.Quantity = *newQty
	}
	if newPrice != nil {
		req.Price = *newPrice
	}
	_, err = d.Submit(ctx, req)
	return err == nil, err
}

func (d *Driver) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	params := url.Values{"orderId": {brokerOrderID}}
	raw, err := d.signedRequest(ctx, "GET", "/fapi/v1/order", params)
	if err != nil {
		return broker.OrderStatus{}, err
	}

	var resp struct {
		OrderID          int64  `json:"orderId"`
		ClientOrderID    string `json:"clientOrderId"`
		Status           string `json:"status"`
		ExecutedQty      string `json:"executedQty"`
		AvgPrice         string `json:"avgPrice"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return broker.OrderStatus{}, broker.NewError(broker.KindExchange, "failed to parse order status", false, err)
	}

	return broker.OrderStatus{
		BrokerOrderID:    brokerOrderID,
		ClientOrderID:    resp.ClientOrderID,
		Status:           resp.Status,
		FilledQuantity:   parseDecimalOrZero(resp.ExecutedQty),
		AverageFillPrice: parseDecimalOrZero(resp.AvgPrice),
	}, nil
}

func (d *Driver) GetPositions(ctx context.Context) ([]broker.PositionInfo, error) {
	raw, err := d.signedRequest(ctx, "GET", "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		IsolatedMargin   string `json:"isolatedMargin"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return nil, broker.NewError(broker.KindExchange, "failed to parse positions", false, err)
	}

	out := make([]broker.PositionInfo, 0, len(resp))
	for _, p := range resp {
		qty := parseDecimalOrZero(p.PositionAmt)
		if qty.IsZero() {
			continue
		}
		side := "long"
		if qty.Sign() < 0 {
			side = "short"
			qty = qty.Neg()
		}
		leverage, _ := strconv.Atoi(p.Leverage)
		out = append(out, broker.PositionInfo{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    parseDecimalOrZero(p.EntryPrice),
			MarkPrice:     parseDecimalOrZero(p.MarkPrice),
			UnrealizedPnL: parseDecimalOrZero(p.UnRealizedProfit),
			Leverage:      leverage,
			MarginUsed:    parseDecimalOrZero(p.IsolatedMargin),
		})
	}
	return out, nil
}

func (d *Driver) GetPosition(ctx context.Context, symbol string) (broker.PositionInfo, error) {
	positions, err := d.GetPositions(ctx)
	if err != nil {
		return broker.PositionInfo{}, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return broker.PositionInfo{}, broker.ErrOrderNotFound
}

func (d *Driver) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := d.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}

	side := "sell"
	if pos.Side == "short" {
		side = "buy"
	}

	_, err = d.Submit(ctx, broker.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       "market",
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	})
	return err
}

func (d *Driver) GetMarketData(ctx context.Context, symbol string) (broker.MarketData, error) {
	params := url.Values{"symbol": {symbol}}
	raw, err := d.signedRequest(ctx, "GET", "/fapi/v1/ticker/bookTicker", params)
	if err != nil {
		return broker.MarketData{}, err
	}

	var resp struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return broker.MarketData{}, broker.NewError(broker.KindExchange, "failed to parse ticker", false, err)
	}

	bid := parseDecimalOrZero(resp.BidPrice)
	ask := parseDecimalOrZero(resp.AskPrice)
	return broker.MarketData{
		Symbol:    symbol,
		BidPrice:  bid,
		AskPrice:  ask,
		LastPrice: bid.Add(ask).Div(decimal.NewFromInt(2)),
	}, nil
}

func (d *Driver) GetAccountBalance(ctx context.Context) (broker.AccountBalance, error) {
	raw, err := d.signedRequest(ctx, "GET", "/fapi/v2/balance", nil)
	if err != nil {
		return broker.AccountBalance{}, err
	}

	var resp []struct {
		Asset              string `json:"asset"`
		Balance            string `json:"balance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return broker.AccountBalance{}, broker.NewError(broker.KindExchange, "failed to parse balance", false, err)
	}

	for _, a := range resp {
		if a.Asset != "USDT" {
			continue
		}
		total := parseDecimalOrZero(a.Balance)
		available := parseDecimalOrZero(a.AvailableBalance)
		return broker.AccountBalance{
			AvailableBalance: available,
			TotalBalance:     total,
			TotalMarginUsed:  total.Sub(available),
		}, nil
	}
	return broker.AccountBalance{}, nil
}

func restSide(side string) string {
	if side == "sell" {
		return "SELL"
	}
	return "BUY"
}

func restOrderType(t string) string {
	switch t {
	case "limit":
		return "LIMIT"
	case "stop":
		return "STOP_MARKET"
	case "stop-limit":
		return "STOP"
	case "take-profit":
		return "TAKE_PROFIT"
	case "take-profit-market":
		return "TAKE_PROFIT_MARKET"
	default:
		return "MARKET"
	}
}
