package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cashbreak/internal/model"
)

// ErrNoCredentials means the auth flow has not written an active record yet.
var ErrNoCredentials = errors.New("no active credentials")

// CredentialStore reads the broker credential record. It is mutated only by
// the external auth flow; this repo never writes it.
type CredentialStore struct {
	pool *pgxpool.Pool
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Active returns the single active credential record.
func (s *CredentialStore) Active(ctx context.Context) (model.Credentials, error) {
	var c model.Credentials
	var token *string
	err := s.pool.QueryRow(ctx,
		`select app_id, secret_key, access_token, is_active, updated_at
		 from credentials where is_active order by updated_at desc limit 1`).
		Scan(&c.AppID, &c.SecretKey, &token, &c.IsActive, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, ErrNoCredentials
		}
		return c, fmt.Errorf("load credentials: %w", err)
	}
	if token != nil {
		c.AccessToken = *token
	}
	return c, nil
}
