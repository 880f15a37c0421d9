package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists accounts in postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initAccountSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initAccountSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			email TEXT PRIMARY KEY,
			password TEXT NOT NULL DEFAULT '',
			recovery_email TEXT NOT NULL DEFAULT '',
			secret_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			message TEXT NOT NULL DEFAULT '',
			verification_link TEXT NOT NULL DEFAULT '',
			window_id TEXT NOT NULL DEFAULT '',
			window_config TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_window ON accounts (window_id) WHERE window_id <> '';`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init account schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, email string) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT email, password, recovery_email, secret_key, status, message,
			verification_link, window_id, window_config, updated_at
		 FROM accounts WHERE email = $1`, NormalizeEmail(email))

	var acc Account
	err := row.Scan(&acc.Email, &acc.Password, &acc.RecoveryEmail, &acc.SecretKey,
		&acc.Status, &acc.Message, &acc.VerificationLink, &acc.WindowID,
		&acc.WindowConfig, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, password, recovery_email, secret_key, status, message,
			verification_link, window_id, window_config, updated_at
		 FROM accounts ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.Email, &acc.Password, &acc.RecoveryEmail, &acc.SecretKey,
			&acc.Status, &acc.Message, &acc.VerificationLink, &acc.WindowID,
			&acc.WindowConfig, &acc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, up Upsert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (email, password, recovery_email, secret_key, status, message, verification_link, updated_at)
		 VALUES ($1, COALESCE($2,''), COALESCE($3,''), COALESCE($4,''), COALESCE($5,'pending'), COALESCE($6,''), COALESCE($7,''), $8)
		 ON CONFLICT (email) DO UPDATE SET
			password = COALESCE($2, accounts.password),
			recovery_email = COALESCE($3, accounts.recovery_email),
			secret_key = COALESCE($4, accounts.secret_key),
			status = COALESCE($5, accounts.status),
			message = COALESCE($6, accounts.message),
			verification_link = COALESCE($7, accounts.verification_link),
			updated_at = $8`,
		NormalizeEmail(up.Email), up.Password, up.RecoveryEmail, up.SecretKey,
		(*string)(up.Status), up.Message, up.VerificationLink, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearWindowBinding(ctx context.Context, email string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE accounts SET window_id = '', updated_at = $2 WHERE email = $1`,
		NormalizeEmail(email), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear window binding: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveWindowBinding(ctx context.Context, email, windowID, windowConfig string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (email, window_id, window_config, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET
			window_id = $2,
			window_config = CASE WHEN $3 <> '' THEN $3 ELSE accounts.window_config END,
			updated_at = $4`,
		NormalizeEmail(email), windowID, windowConfig, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save window binding: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
