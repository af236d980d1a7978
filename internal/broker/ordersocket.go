package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cashbreak/internal/events"
)

// OrderHandler receives every parsed order update. Invoked serially from
// the socket read loop.
type OrderHandler func(events.OrderUpdate)

// OrderSocket maintains the persistent websocket to the broker order feed.
type OrderSocket struct {
	wsURL   string
	token   string // app_id:access_token
	onOrder OrderHandler
	logger  *zap.Logger
}

func NewOrderSocket(wsURL, socketToken string, onOrder OrderHandler, logger *zap.Logger) *OrderSocket {
	return &OrderSocket{wsURL: wsURL, token: socketToken, onOrder: onOrder, logger: logger}
}

type orderSubscribeFrame struct {
	T     string   `json:"T"`
	SList []string `json:"SLIST"`
	SubT  int      `json:"SUB_T"`
}

// Run connects, subscribes to order updates, and pumps messages until the
// context is cancelled or the socket fails. Returns ErrTokenExpired on a
// 403-class failure so the supervisor reloads credentials.
func (s *OrderSocket) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Authorization", s.token)

	conn, resp, err := dialer.Dial(s.wsURL, headers)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return ErrTokenExpired
		}
		return fmt.Errorf("dial order socket: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(262144)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	if err := conn.WriteJSON(orderSubscribeFrame{T: "SUB_ORD", SList: []string{"orderUpdate"}, SubT: 1}); err != nil {
		return fmt.Errorf("subscribe orders: %w", err)
	}
	s.logger.Info("Order socket connected, subscribed to order updates")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx, conn)

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
			return fmt.Errorf("read order socket: %w", err)
		}

		update, err := events.ParseOrderUpdate(message)
		if err != nil {
			s.logger.Debug("Skipping unparseable order message", zap.Error(err))
			continue
		}
		s.onOrder(update)
	}
}

func (s *OrderSocket) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Warn("Ping failed", zap.Error(err))
				return
			}
		}
	}
}
