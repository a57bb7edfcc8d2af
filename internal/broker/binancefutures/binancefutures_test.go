package binancefutures

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradingcore/internal/broker"
)

func testDriver() *Driver {
	return New(Config{BaseURL: "https://testnet.binancefuture.com"}, zerolog.Nop())
}

func TestRoundForSubmit_RejectsUnknownSymbol(t *testing.T) {
	d := testDriver()
	_, err := d.roundForSubmit(broker.OrderRequest{Symbol: "UNKNOWN", Quantity: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, broker.ErrSymbolNotTradable)
}

func TestRoundForSubmit_RoundsAndValidatesAgainstCachedFilters(t *testing.T) {
	d := testDriver()
	d.symbolMu.Lock()
	d.symbols["BTCUSDT"] = SymbolInfo{
		StepSize:    decimal.NewFromFloat(0.001),
		TickSize:    decimal.NewFromFloat(0.1),
		MinQty:      decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(10),
	}
	d.symbolMu.Unlock()

	req, err := d.roundForSubmit(broker.OrderRequest{
		Symbol:   "BTCUSDT",
		Quantity: decimal.NewFromFloat(0.0017),
		Price:    decimal.NewFromFloat(65000.37),
	})
	require.NoError(t, err)
	assert.True(t, req.Quantity.Equal(decimal.NewFromFloat(0.001)), req.Quantity.String())
	assert.True(t, req.Price.Equal(decimal.NewFromFloat(65000.3)), req.Price.String())
}

func TestRoundForSubmit_RejectsBelowMinNotional(t *testing.T) {
	d := testDriver()
	d.symbolMu.Lock()
	d.symbols["BTCUSDT"] = SymbolInfo{
		StepSize:    decimal.NewFromFloat(0.001),
		TickSize:    decimal.NewFromFloat(0.1),
		MinQty:      decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(1000),
	}
	d.symbolMu.Unlock()

	_, err := d.roundForSubmit(broker.OrderRequest{
		Symbol:   "BTCUSDT",
		Quantity: decimal.NewFromFloat(0.001),
		Price:    decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestCalculateBackoff_DoublesUntilCapped(t *testing.T) {
	assert.Equal(t, baseReconnectDelay, calculateBackoff(1))
	assert.Equal(t, 2*baseReconnectDelay, calculateBackoff(2))
	assert.Equal(t, 4*baseReconnectDelay, calculateBackoff(3))

	longRun := calculateBackoff(20)
	assert.Equal(t, maxReconnectDelay, longRun)
}

func TestHandleMessage_TranslatesOrderTradeUpdate(t *testing.T) {
	ws := newUserDataStream(Config{}, zerolog.Nop())

	var received broker.OrderUpdate
	ws.subscribe(func(u broker.OrderUpdate) { received = u })

	payload := []byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"BTCUSDT","c":"client-1","X":"FILLED","i":555,"l":"0.01","z":"0.01","L":"65000.5"}}`)
	ws.handleMessage(payload)

	assert.Equal(t, "BTCUSDT", received.Symbol)
	assert.Equal(t, "FILLED", received.Status)
	assert.Equal(t, "client-1", received.ClientOrderID)
	assert.True(t, received.FillPrice.Equal(decimal.NewFromFloat(65000.5)))
}

func TestHandleMessage_IgnoresOtherEventTypes(t *testing.T) {
	ws := newUserDataStream(Config{}, zerolog.Nop())

	called := false
	ws.subscribe(func(u broker.OrderUpdate) { called = true })

	ws.handleMessage([]byte(`{"e":"ACCOUNT_UPDATE"}`))
	assert.False(t, called)
}

func TestStop_IsIdempotent(t *testing.T) {
	ws := newUserDataStream(Config{}, zerolog.Nop())
	require.NoError(t, ws.stop())
	require.NoError(t, ws.stop())
}
