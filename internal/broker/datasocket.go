package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTokenExpired signals a 403-class failure: the stored access token is
// dead and the process must restart to pick up a fresh one.
var ErrTokenExpired = errors.New("broker token expired")

// TickUpdate is one symbol update from the market data feed. Non-lite mode
// carries the cumulative day volume needed for candle volume deltas.
type TickUpdate struct {
	Type           string  `json:"type"`
	Symbol         string  `json:"symbol"`
	LTP            float64 `json:"ltp"`
	VolTradedToday int64   `json:"vol_traded_today"`
}

// TickHandler receives every parsed symbol update. It is invoked serially
// from the socket read loop.
type TickHandler func(TickUpdate)

// DataSocket maintains the persistent websocket to the broker market data
// feed and feeds parsed ticks to a handler.
type DataSocket struct {
	wsURL      string
	token      string // app_id:access_token
	symbols    []string
	batchSize  int
	batchDelay time.Duration
	onTick     TickHandler
	logger     *zap.Logger

	conn *websocket.Conn
}

func NewDataSocket(wsURL, socketToken string, symbols []string, batchSize int, batchDelay time.Duration, onTick TickHandler, logger *zap.Logger) *DataSocket {
	return &DataSocket{
		wsURL:      wsURL,
		token:      socketToken,
		symbols:    symbols,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		onTick:     onTick,
		logger:     logger,
	}
}

type subscribeFrame struct {
	T     string   `json:"T"`
	TList []string `json:"TLIST"`
	SubT  int      `json:"SUB_T"`
}

// Run connects, subscribes the universe in batches, and pumps messages
// until the context is cancelled or the socket fails. A 403-class failure
// returns ErrTokenExpired; everything else is a transient error the caller
// reconnects from.
func (ds *DataSocket) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	headers := http.Header{}
	headers.Set("Authorization", ds.token)

	// litemode=false so cumulative day volume rides on every update.
	conn, resp, err := dialer.Dial(ds.wsURL+"?litemode=false", headers)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return ErrTokenExpired
		}
		return fmt.Errorf("dial data socket: %w", err)
	}
	ds.conn = conn
	defer conn.Close()

	conn.SetReadLimit(655350)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ds.logger.Info("Data socket connected", zap.Int("symbols", len(ds.symbols)))

	if err := ds.subscribeBatches(ctx); err != nil {
		return err
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go ds.pingLoop(pingCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isForbidden(err) {
				return ErrTokenExpired
			}
			return fmt.Errorf("read data socket: %w", err)
		}
		ds.handleMessage(message)
	}
}

// subscribeBatches subscribes the universe in slices to respect broker
// rate limits, pausing between requests.
func (ds *DataSocket) subscribeBatches(ctx context.Context) error {
	size := ds.batchSize
	if size <= 0 {
		size = 50
	}
	for i := 0; i < len(ds.symbols); i += size {
		end := i + size
		if end > len(ds.symbols) {
			end = len(ds.symbols)
		}
		frame := subscribeFrame{T: "SUB_DATA", TList: ds.symbols[i:end], SubT: 1}
		if err := ds.conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("subscribe batch: %w", err)
		}
		ds.logger.Info("Subscribed batch",
			zap.Int("from", i), zap.Int("to", end), zap.Int("total", len(ds.symbols)))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ds.batchDelay):
		}
	}
	return nil
}

func (ds *DataSocket) handleMessage(message []byte) {
	var update TickUpdate
	if err := json.Unmarshal(message, &update); err != nil {
		ds.logger.Debug("Skipping unparseable message", zap.Error(err))
		return
	}
	// Control frames and acks have no symbol/ltp; only price updates matter.
	if update.Type == "" || update.Symbol == "" || update.LTP == 0 {
		return
	}
	ds.onTick(update)
}

func (ds *DataSocket) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := ds.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				ds.logger.Warn("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

func isForbidden(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "403") || strings.Contains(msg, "Forbidden")
}
