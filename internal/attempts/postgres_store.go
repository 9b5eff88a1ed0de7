package attempts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists attempts in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS claim_attempts (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    wallet_address TEXT NOT NULL,
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS claim_attempts_claim_id_idx ON claim_attempts (claim_id, created_at);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Save(ctx context.Context, a Attempt) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO claim_attempts (id, claim_id, user_id, wallet_address, outcome, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING
`, a.ID, a.ClaimID, a.UserID, a.WalletAddress, string(a.Outcome), a.Reason, a.CreatedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context, claimID string) ([]Attempt, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, claim_id, user_id, wallet_address, outcome, reason, created_at
FROM claim_attempts
WHERE claim_id = $1
ORDER BY created_at ASC
`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var outcome string
		if err := rows.Scan(&a.ID, &a.ClaimID, &a.UserID, &a.WalletAddress, &outcome, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Outcome = Outcome(outcome)
		out = append(out, a)
	}
	return out, rows.Err()
}
