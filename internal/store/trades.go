package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cashbreak/internal/model"
)

// ErrLockSkipped is returned when a trade row is locked by another worker
// or no longer exists. Callers skip and move on.
var ErrLockSkipped = errors.New("trade row locked or gone")

// TradeStore persists strategy trades. The algo worker and the reconciler
// mutate the same rows; every mutation goes through WithLockedTrade so two
// processes never act on the same trade simultaneously.
type TradeStore struct {
	pool *pgxpool.Pool
}

func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `id, symbol, status, candle_timestamp, candle_open, candle_high,
candle_low, candle_close, prev_day_low, entry_level, stop_loss, target_price,
quantity, entry_order_id, exit_order_id, actual_entry_price, actual_exit_price,
is_breakeven_moved, pnl, exit_reason, created_at`

// Create persists a new trade and fills in its id.
func (s *TradeStore) Create(ctx context.Context, t *model.Trade) error {
	err := s.pool.QueryRow(ctx,
		`insert into trades (symbol, status, candle_timestamp, candle_open, candle_high,
		 candle_low, candle_close, prev_day_low, entry_level, stop_loss, target_price, quantity)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) returning id, created_at`,
		t.Symbol, string(t.Status), t.CandleTimestamp, t.CandleOpen, t.CandleHigh,
		t.CandleLow, t.CandleClose, t.PrevDayLow, t.EntryLevel, t.StopLoss,
		t.TargetPrice, t.Quantity).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// IDsBySymbolStatus lists trade ids for a symbol in a given status. The
// rows themselves are re-read under lock before any mutation.
func (s *TradeStore) IDsBySymbolStatus(ctx context.Context, symbol string, status model.TradeStatus) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`select id from trades where symbol = $1 and status = $2 order by id`,
		symbol, string(status))
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountForSymbolToday counts today's non-terminal-failure setups for a
// symbol. Advisory only: the Redis counter is the authority at trigger time.
func (s *TradeStore) CountForSymbolToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	var n int
	err := s.pool.QueryRow(ctx,
		`select count(*) from trades where symbol = $1 and created_at >= $2 and created_at < $3
		 and status not in ('EXPIRED', 'FAILED')`,
		symbol, day, day.Add(24*time.Hour)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// FindIDByEntryOrder resolves a broker order id against entry orders.
func (s *TradeStore) FindIDByEntryOrder(ctx context.Context, orderID string) (int64, bool, error) {
	return s.findIDBy(ctx, "entry_order_id", orderID)
}

// FindIDByExitOrder resolves a broker order id against exit orders.
func (s *TradeStore) FindIDByExitOrder(ctx context.Context, orderID string) (int64, bool, error) {
	return s.findIDBy(ctx, "exit_order_id", orderID)
}

func (s *TradeStore) findIDBy(ctx context.Context, column, orderID string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`select id from trades where %s = $1`, column), orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find trade by %s: %w", column, err)
	}
	return id, true, nil
}

// WithLockedTrade runs fn with an exclusive row lock on the trade, skipping
// rows already locked elsewhere. fn may mutate the trade; mutations are
// written back and committed when fn returns nil. fn returning an error
// rolls everything back.
func (s *TradeStore) WithLockedTrade(ctx context.Context, id int64, fn func(t *model.Trade) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTrade(tx.QueryRow(ctx,
		`select `+tradeColumns+` from trades where id = $1 for update skip locked`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLockSkipped
		}
		return fmt.Errorf("lock trade %d: %w", id, err)
	}

	if err := fn(t); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`update trades set status = $1, stop_loss = $2, is_breakeven_moved = $3,
		 entry_order_id = $4, exit_order_id = $5, actual_entry_price = $6,
		 actual_exit_price = $7, pnl = $8, exit_reason = $9 where id = $10`,
		string(t.Status), t.StopLoss, t.IsBreakevenMoved,
		nullStr(t.EntryOrderID), nullStr(t.ExitOrderID),
		nullDec(t.ActualEntryPrice), nullDec(t.ActualExitPrice),
		nullDec(t.PnL), nullStr(t.ExitReason), t.ID)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", id, err)
	}

	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*model.Trade, error) {
	var t model.Trade
	var status string
	var entryOrderID, exitOrderID, exitReason *string
	var actualEntry, actualExit, pnl *decimal.Decimal

	err := row.Scan(&t.ID, &t.Symbol, &status, &t.CandleTimestamp, &t.CandleOpen,
		&t.CandleHigh, &t.CandleLow, &t.CandleClose, &t.PrevDayLow, &t.EntryLevel,
		&t.StopLoss, &t.TargetPrice, &t.Quantity, &entryOrderID, &exitOrderID,
		&actualEntry, &actualExit, &t.IsBreakevenMoved, &pnl, &exitReason, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = model.TradeStatus(status)
	if entryOrderID != nil {
		t.EntryOrderID = *entryOrderID
	}
	if exitOrderID != nil {
		t.ExitOrderID = *exitOrderID
	}
	if exitReason != nil {
		t.ExitReason = *exitReason
	}
	if actualEntry != nil {
		t.ActualEntryPrice = *actualEntry
	}
	if actualExit != nil {
		t.ActualExitPrice = *actualExit
	}
	if pnl != nil {
		t.PnL = *pnl
	}
	return &t, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDec(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}
