package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Order sides and types as the broker API encodes them.
const (
	SideBuy  = 1
	SideSell = -1

	TypeLimit  = 1
	TypeMarket = 2

	ProductIntraday = "INTRADAY"
	ValidityDay     = "DAY"
)

// Client talks to the Fyers v3 REST API. Every call carries a per-call
// timeout; a timed-out placement is treated as a failure by callers.
type Client struct {
	baseURL string
	appID   string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, appID, accessToken string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		appID:   appID,
		token:   accessToken,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) authHeader() string {
	return c.appID + ":" + c.token
}

// DailyCandle is one daily history bar: [ts, open, high, low, close, volume].
type DailyCandle struct {
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// HistoryRequest mirrors the broker history endpoint parameters.
type HistoryRequest struct {
	Symbol     string
	Resolution string
	DateFormat string
	RangeFrom  string
	RangeTo    string
	ContFlag   string
}

type historyResponse struct {
	S       string      `json:"s"`
	Message string      `json:"message"`
	Candles [][]float64 `json:"candles"`
}

// History fetches daily candles for a symbol.
func (c *Client) History(ctx context.Context, req HistoryRequest) ([]DailyCandle, error) {
	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("resolution", req.Resolution)
	q.Set("date_format", req.DateFormat)
	q.Set("range_from", req.RangeFrom)
	q.Set("range_to", req.RangeTo)
	q.Set("cont_flag", req.ContFlag)

	var resp historyResponse
	if err := c.get(ctx, "/data/history?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.S != "ok" {
		return nil, fmt.Errorf("history %s: %s", req.Symbol, resp.Message)
	}

	candles := make([]DailyCandle, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, DailyCandle{
			TS:     int64(row[0]),
			Open:   row[1],
			High:   row[2],
			Low:    row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	return candles, nil
}

// OrderRequest mirrors the broker order placement payload.
type OrderRequest struct {
	Symbol       string  `json:"symbol"`
	Qty          int     `json:"qty"`
	Type         int     `json:"type"`
	Side         int     `json:"side"`
	ProductType  string  `json:"productType"`
	Validity     string  `json:"validity"`
	LimitPrice   float64 `json:"limitPrice"`
	StopPrice    float64 `json:"stopPrice"`
	DisclosedQty int     `json:"disclosedQty"`
	OfflineOrder bool    `json:"offlineOrder"`
}

// MarketOrder builds the standard intraday market order the strategy places.
func MarketOrder(symbol string, qty, side int) OrderRequest {
	return OrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Type:        TypeMarket,
		Side:        side,
		ProductType: ProductIntraday,
		Validity:    ValidityDay,
	}
}

type orderResponse struct {
	S       string `json:"s"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// PlaceOrder submits an order and returns the broker order id. Any logical
// failure (s != "ok") or transport failure is an error; the caller rolls
// back its counter reservation.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/orders/sync", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader())
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	defer httpResp.Body.Close()

	var resp orderResponse
	if err := decodeBody(httpResp.Body, &resp); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if resp.S != "ok" || resp.ID == "" {
		c.logger.Error("Broker rejected order",
			zap.String("symbol", req.Symbol),
			zap.Int("side", req.Side),
			zap.String("message", resp.Message))
		return "", fmt.Errorf("order rejected: %s", resp.Message)
	}
	return resp.ID, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrTokenExpired
	}
	return decodeBody(resp.Body, out)
}

func decodeBody(r io.Reader, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r, 4<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
