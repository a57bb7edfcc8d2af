package binancefutures

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"

	"github.com/aristath/tradingcore/internal/broker"
	"github.com/aristath/tradingcore/pkg/logger"
)

const (
	wsWriteWait   = 10 * time.Second
	wsDialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// createHTTP1Client forces HTTP/1.1 on the dial. Some CDN-fronted exchange
// endpoints negotiate ALPN to HTTP/2 in a way that breaks the websocket
// upgrade handshake; restricting the advertised ALPN protocols avoids it.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   wsDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
		Timeout: wsDialTimeout,
	}
}

// userDataStream is the reconnecting websocket leg of the driver, carrying
// Binance's user-data execution-report events to registered
// broker.OrderUpdateHandler subscribers.
type userDataStream struct {
	url string

	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	handlersMu sync.RWMutex
	handlers   []broker.OrderUpdateHandler

	log zerolog.Logger
}

func newUserDataStream(cfg Config, log zerolog.Logger) *userDataStream {
	return &userDataStream{
		url:      cfg.StreamURL,
		stopChan: make(chan struct{}),
		log:      logger.Component(log, "user_data_stream"),
	}
}

func (ws *userDataStream) subscribe(h broker.OrderUpdateHandler) {
	ws.handlersMu.Lock()
	defer ws.handlersMu.Unlock()
	ws.handlers = append(ws.handlers, h)
}

func (ws *userDataStream) start(ctx context.Context) error {
	ws.mu.Lock()
	ws.stopped = false
	ws.mu.Unlock()

	if err := ws.connect(ctx); err != nil {
		ws.log.Warn().Err(err).Msg("initial user-data stream connect failed, entering reconnect loop")
		go ws.reconnectLoop()
		return nil
	}

	ws.mu.RLock()
	readCtx := ws.connCtx
	ws.mu.RUnlock()
	go ws.readMessages(readCtx)
	return nil
}

func (ws *userDataStream) stop() error {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return nil
	}
	ws.stopped = true
	close(ws.stopChan)
	conn := ws.conn
	cancel := ws.cancelFunc
	ws.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	return nil
}

func (ws *userDataStream) connect(parentCtx context.Context) error {
	connCtx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(parentCtx, wsDialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, ws.url, &websocket.DialOptions{
		HTTPClient: createHTTP1Client(),
	})
	if err != nil {
		cancel()
		return err
	}
	conn.SetReadLimit(1 << 20)

	ws.mu.Lock()
	ws.conn = conn
	ws.connCtx = connCtx
	ws.cancelFunc = cancel
	ws.connected = true
	ws.mu.Unlock()

	return nil
}

func (ws *userDataStream) readMessages(ctx context.Context) {
	for {
		select {
		case <-ws.stopChan:
			return
		default:
		}

		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			ws.connected = false
			ws.mu.Unlock()

			ws.log.Warn().Err(err).Msg("user-data stream read failed")
			go ws.reconnectLoop()
			return
		}

		ws.handleMessage(data)
	}
}

// streamEvent mirrors the subset of Binance's ORDER_TRADE_UPDATE event the
// driver cares about.
type streamEvent struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol           string `json:"s"`
		ClientOrderID    string `json:"c"`
		OrderStatus      string `json:"X"`
		OrderID          int64  `json:"i"`
		LastFilledQty    string `json:"l"`
		CumulativeFilled string `json:"z"`
		LastFilledPrice  string `json:"L"`
	} `json:"o"`
}

func (ws *userDataStream) handleMessage(data []byte) {
	var evt streamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		ws.log.Debug().Err(err).Msg("ignoring unparseable stream message")
		return
	}
	if evt.EventType != "ORDER_TRADE_UPDATE" {
		return
	}

	update := broker.OrderUpdate{
		BrokerOrderID:    formatOrderID(evt.Order.OrderID),
		ClientOrderID:    evt.Order.ClientOrderID,
		Symbol:           evt.Order.Symbol,
		Status:           evt.Order.OrderStatus,
		FilledQuantity:   parseDecimalOrZero(evt.Order.LastFilledQty),
		FillPrice:        parseDecimalOrZero(evt.Order.LastFilledPrice),
		CumulativeFilled: parseDecimalOrZero(evt.Order.CumulativeFilled),
	}

	ws.handlersMu.RLock()
	defer ws.handlersMu.RUnlock()
	for _, h := range ws.handlers {
		h(update)
	}
}

func formatOrderID(id int64) string {
	return decimal.NewFromInt(id).String()
}

// reconnectLoop retries the connection with exponential backoff, guarded by
// the reconnecting flag so concurrent read failures don't spawn overlapping
// reconnection attempts.
func (ws *userDataStream) reconnectLoop() {
	ws.mu.Lock()
	if ws.reconnecting || ws.stopped {
		ws.mu.Unlock()
		return
	}
	ws.reconnecting = true
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		ws.reconnecting = false
		ws.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-ws.stopChan:
			return
		default:
		}

		ws.mu.RLock()
		stopped := ws.stopped
		ws.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			ws.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("attempting to reconnect user-data stream")
		} else {
			ws.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect attempt exceeded max attempts, retrying anyway")
		}

		select {
		case <-time.After(delay):
		case <-ws.stopChan:
			return
		}

		if err := ws.connect(context.Background()); err != nil {
			ws.log.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		ws.log.Info().Int("attempt", attempt).Msg("user-data stream reconnected")

		ws.mu.RLock()
		readCtx := ws.connCtx
		ws.mu.RUnlock()
		go ws.readMessages(readCtx)
		return
	}
}

// calculateBackoff computes baseReconnectDelay * 2^(attempt-1), capped at
// maxReconnectDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
