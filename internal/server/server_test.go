package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradingcore/internal/adapter"
	"github.com/aristath/tradingcore/internal/broker/mockbroker"
	"github.com/aristath/tradingcore/internal/config"
	"github.com/aristath/tradingcore/internal/events"
	"github.com/aristath/tradingcore/internal/recovery"
	"github.com/aristath/tradingcore/internal/risk"
	"github.com/aristath/tradingcore/internal/trading"
)

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			MaxLeverage:         10,
			MaxPositionSizeUSDT: decimal.NewFromInt(5000),
			MaxPositions:        5,
			DailyLossLimitUSDT:  decimal.NewFromInt(1000),
			MaxDrawdownPercent:  decimal.NewFromFloat(0.25),
			MaxConcentration:    decimal.NewFromFloat(0.30),
			MaxPerGroup:         3,
		},
		Sizing: config.SizingConfig{DefaultPositionSizePercent: decimal.NewFromFloat(0.1)},
		Signal: config.SignalConfig{AutoExecute: true, ConfidenceThreshold: decimal.NewFromFloat(0.5), StrengthThreshold: decimal.NewFromFloat(0.5)},
		State:  config.StateConfig{SnapshotIntervalSecs: 3600},
		WS:     config.WebSocketConfig{HeartbeatInterval: 3600},
	}
}

func testServer(t *testing.T) (*Server, *mockbroker.Broker) {
	t.Helper()
	cfg := testConfig()
	b := mockbroker.New(decimal.NewFromInt(100000))
	bus := events.New(zerolog.Nop(), 100)
	validator := risk.New(cfg.Risk, nil, zerolog.Nop())
	adapt := adapter.New(cfg.Sizing, cfg.Risk, cfg.Order)
	rec, err := recovery.New(recovery.Config{StateDir: t.TempDir(), SnapshotInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	svc := trading.New(cfg, b, bus, validator, adapt, rec, zerolog.Nop())
	srv := New(Config{Log: zerolog.Nop(), Port: 0, Trading: svc, Bus: bus})
	return srv, b
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionLifecycle_StartStatusStop(t *testing.T) {
	srv, b := testServer(t)
	b.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	portfolioID := uuid.New()
	rec := doJSON(t, srv, http.MethodPost, "/session/start", startSessionRequest{
		PortfolioID:  portfolioID,
		StartingCash: decimal.NewFromInt(100000),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/session/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Running", status["status"])

	rec = doJSON(t, srv, http.MethodPost, "/session/stop", reasonRequest{Reason: "test done"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlaceOrder_HappyPath_ThenCancel(t *testing.T) {
	srv, b := testServer(t)
	b.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	portfolioID := uuid.New()
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/session/start", startSessionRequest{
		PortfolioID: portfolioID, StartingCash: decimal.NewFromInt(100000),
	}).Code)

	limitPrice := decimal.NewFromInt(49000)
	rec := doJSON(t, srv, http.MethodPost, "/orders/", map[string]any{
		"Symbol": "BTCUSDT", "Side": "buy", "Type": "limit",
		"Quantity": "0.01", "LimitPrice": &limitPrice,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var ord map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ord))
	orderID := ord["ID"].(string)

	rec = doJSON(t, srv, http.MethodDelete, "/orders/"+orderID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlaceOrder_RiskBlocked_Returns422(t *testing.T) {
	srv, b := testServer(t)
	b.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	portfolioID := uuid.New()
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/session/start", startSessionRequest{
		PortfolioID: portfolioID, StartingCash: decimal.NewFromInt(100000),
	}).Code)

	limitPrice := decimal.NewFromInt(50000)
	rec := doJSON(t, srv, http.MethodPost, "/orders/", map[string]any{
		"Symbol": "BTCUSDT", "Side": "buy", "Type": "limit",
		"Quantity": "1", "LimitPrice": &limitPrice, // notional 50000 > 5000 cap
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "risk-blocked", body["category"])
}

func TestEmergencyStop_LocksSessionThenConflictsPlaceOrder(t *testing.T) {
	srv, b := testServer(t)
	b.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	portfolioID := uuid.New()
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/session/start", startSessionRequest{
		PortfolioID: portfolioID, StartingCash: decimal.NewFromInt(100000),
	}).Code)

	rec := doJSON(t, srv, http.MethodPost, "/session/emergency-stop", emergencyStopRequest{Reason: "ops triggered", ClosePositions: false})
	require.Equal(t, http.StatusOK, rec.Code)

	limitPrice := decimal.NewFromInt(49000)
	rec = doJSON(t, srv, http.MethodPost, "/orders/", map[string]any{
		"Symbol": "BTCUSDT", "Side": "buy", "Type": "limit",
		"Quantity": "0.01", "LimitPrice": &limitPrice,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/session/unlock", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugEvents_ReturnsRecentEnvelopes(t *testing.T) {
	srv, b := testServer(t)
	b.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	portfolioID := uuid.New()
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/session/start", startSessionRequest{
		PortfolioID: portfolioID, StartingCash: decimal.NewFromInt(100000),
	}).Code)

	rec := doJSON(t, srv, http.MethodGet, "/debug/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelopes []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelopes))
	assert.NotEmpty(t, envelopes)
}

func TestDebugEvents_MsgpackAccept_ReturnsMsgpackContentType(t *testing.T) {
	srv, b := testServer(t)
	b.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	portfolioID := uuid.New()
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/session/start", startSessionRequest{
		PortfolioID: portfolioID, StartingCash: decimal.NewFromInt(100000),
	}).Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/events", nil)
	req.Header.Set("Accept", "application/msgpack")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}
