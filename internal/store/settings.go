package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cashbreak/internal/model"
)

// SettingsStore reads the global risk parameters. The dashboard writes
// them; workers take a snapshot at startup.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the settings row, creating it with defaults on first use.
func (s *SettingsStore) Get(ctx context.Context) (model.Settings, error) {
	set, err := s.read(ctx)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return set, err
	}

	def := model.DefaultSettings()
	_, err = s.pool.Exec(ctx,
		`insert into settings (max_trades_per_day, max_trades_per_symbol,
		 risk_per_trade_amount, risk_reward_ratio, breakeven_trigger_r, volume_threshold)
		 values ($1,$2,$3,$4,$5,$6)`,
		def.MaxTradesPerDay, def.MaxTradesPerSymbol, def.RiskPerTradeAmount,
		def.RiskRewardRatio, def.BreakevenTriggerR, def.VolumeThreshold)
	if err != nil {
		return def, fmt.Errorf("seed settings: %w", err)
	}
	return def, nil
}

func (s *SettingsStore) read(ctx context.Context) (model.Settings, error) {
	var set model.Settings
	err := s.pool.QueryRow(ctx,
		`select max_trades_per_day, max_trades_per_symbol, risk_per_trade_amount,
		 risk_reward_ratio, breakeven_trigger_r, volume_threshold
		 from settings order by id limit 1`).
		Scan(&set.MaxTradesPerDay, &set.MaxTradesPerSymbol, &set.RiskPerTradeAmount,
			&set.RiskRewardRatio, &set.BreakevenTriggerR, &set.VolumeThreshold)
	if err != nil {
		return set, err
	}
	return set, nil
}
