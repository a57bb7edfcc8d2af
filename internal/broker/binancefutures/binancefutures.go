// Package binancefutures is the concrete Broker Port driver for Binance's
// USDT-margined futures API: REST order submission/query plus a
// reconnecting websocket user-data stream.
package binancefutures

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/broker"
	"github.com/aristath/tradingcore/internal/domain/money"
	"github.com/aristath/tradingcore/pkg/logger"
)

const (
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
)

// SymbolInfo caches an exchange symbol's precision and trading-size rules,
// fetched once at Connect and reused by every subsequent Submit to round
// and validate locally before calling the exchange.
type SymbolInfo struct {
	StepSize    decimal.Decimal
	TickSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Config configures the REST+websocket driver.
type Config struct {
	BaseURL    string // e.g. https://testnet.binancefuture.com or https://fapi.binance.com
	StreamURL  string // e.g. wss://stream.binancefuture.com/ws
	APIKey     string
	APISecret  string
}

// Driver is the Binance USDT-M futures Broker Port driver. The REST
// request path is serialized through a single in-flight slot (requestMu)
// matching the teacher SDK client's rate-limited request queue; the
// websocket path runs the reconnect/backoff loop grounded in the teacher's
// market-status websocket client. The stream sends no heartbeat of its own.
type Driver struct {
	cfg Config

	httpClient *http.Client
	requestMu  sync.Mutex

	symbolMu sync.RWMutex
	symbols  map[string]SymbolInfo

	ws *userDataStream

	log zerolog.Logger
}

// New constructs a Driver. Call Connect before submitting orders.
func New(cfg Config, log zerolog.Logger) *Driver {
	d := &Driver{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		symbols:    make(map[string]SymbolInfo),
		log:        logger.Component(log, "binancefutures"),
	}
	d.ws = newUserDataStream(cfg, d.log)
	return d
}

// Connect fetches and caches exchange info, then starts the user-data
// stream's reconnect-managed connection.
func (d *Driver) Connect(ctx context.Context) error {
	if err := d.loadExchangeInfo(ctx); err != nil {
		return broker.NewError(broker.KindNetwork, "failed to load exchange info", true, err)
	}
	return d.ws.start(ctx)
}

// Disconnect stops the user-data stream.
func (d *Driver) Disconnect(ctx context.Context) error {
	return d.ws.stop()
}

// SubscribeOrderUpdates registers handler on the underlying user-data
// stream; each update is parsed from Binance's execution-report event and
// keeps Binance's native status string.
func (d *Driver) SubscribeOrderUpdates(ctx context.Context, handler broker.OrderUpdateHandler) error {
	d.ws.subscribe(handler)
	return nil
}

// SubscribeMarketData has no direct market-data websocket in this driver
// (order flow relies on the user-data stream only); callers poll
// GetMarketData instead. Kept on the interface for drivers that do stream
// ticks; this one intentionally returns a typed not-implemented error.
func (d *Driver) SubscribeMarketData(ctx context.Context, symbols []string, handler broker.MarketDataHandler) error {
	return broker.NewError(broker.KindValidation, "market data streaming not implemented by this driver", false, nil)
}

func (d *Driver) symbolInfo(symbol string) (SymbolInfo, bool) {
	d.symbolMu.RLock()
	defer d.symbolMu.RUnlock()
	info, ok := d.symbols[symbol]
	return info, ok
}

// roundForSubmit applies the cached step/tick size to quantity and price
// before an order reaches the exchange (§4.7 driver responsibility).
func (d *Driver) roundForSubmit(req broker.OrderRequest) (broker.OrderRequest, error) {
	info, ok := d.symbolInfo(req.Symbol)
	if !ok {
		return req, broker.ErrSymbolNotTradable
	}

	req.Quantity = money.RoundStep(req.Quantity, info.StepSize)
	if req.Price.Sign() > 0 {
		req.Price = money.RoundTick(req.Price, info.TickSize)
	}

	if req.Quantity.LessThan(info.MinQty) {
		return req, broker.NewError(broker.KindValidation, "quantity below exchange minimum", false, nil)
	}
	if info.MaxQty.Sign() > 0 && req.Quantity.GreaterThan(info.MaxQty) {
		return req, broker.NewError(broker.KindValidation, "quantity above exchange maximum", false, nil)
	}
	notional := req.Quantity.Mul(req.Price)
	if info.MinNotional.Sign() > 0 && req.Price.Sign() > 0 && notional.LessThan(info.MinNotional) {
		return req, broker.NewError(broker.KindValidation, "notional below exchange minimum", false, nil)
	}
	return req, nil
}

// signedRequest performs a HMAC-SHA256 signed REST call, retrying
// idempotently on transient failures with linear backoff (§4.7).
func (d *Driver) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	d.requestMu.Lock()
	defer d.requestMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := d.doSignedRequest(ctx, method, path, params)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var brokerErr *broker.Error
		if ok := asBrokerError(err, &brokerErr); ok && !brokerErr.Retryable {
			return nil, err
		}

		select {
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func asBrokerError(err error, target **broker.Error) bool {
	be, ok := err.(*broker.Error)
	if ok {
		*target = be
	}
	return ok
}

func (d *Driver) doSignedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Del("signature")
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	signature := d.sign(params.Encode())
	params.Set("signature", signature)

	reqURL := d.cfg.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, broker.NewError(broker.KindValidation, "failed to build request", false, err)
	}
	req.Header.Set("X-MBX-APIKEY", d.cfg.APIKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, broker.NewError(broker.KindNetwork, "request failed", true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, broker.NewError(broker.KindNetwork, "failed to read response", true, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, broker.NewError(broker.KindRateLimit, "rate limited", true, nil)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, broker.NewError(broker.KindAuth, "authentication failed", false, nil)
	}
	if resp.StatusCode >= 500 {
		return nil, broker.NewError(broker.KindExchange, "exchange server error", true, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, broker.NewError(broker.KindValidation, "request rejected: "+string(raw), false, nil)
	}
	return raw, nil
}

func (d *Driver) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(d.cfg.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeJSON(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	return dec.Decode(v)
}
