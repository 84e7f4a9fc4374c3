package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// AccountStore implements crawler.AccountStore on a Postgres table.
type AccountStore struct {
	db    querier
	table string
}

// NewAccountStore wraps an existing pool. An empty table uses DefaultAccountsTable.
func NewAccountStore(db querier, table string) (*AccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, DefaultAccountsTable)
	if err != nil {
		return nil, err
	}
	return &AccountStore{db: db, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *AccountStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// ListActive returns every active account ordered by id.
func (s *AccountStore) ListActive(ctx context.Context) ([]crawler.Account, error) {
	query := fmt.Sprintf(`SELECT id, status, cookies, nickname FROM %s WHERE status = $1 ORDER BY id`, s.table)
	rows, err := s.db.Query(ctx, query, string(crawler.AccountActive))
	if err != nil {
		return nil, fmt.Errorf("query active accounts: %w", err)
	}
	defer rows.Close()

	var out []crawler.Account
	for rows.Next() {
		var (
			a      crawler.Account
			status string
		)
		if err := rows.Scan(&a.ID, &status, &a.Cookies, &a.Nickname); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Status = crawler.AccountStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// Get loads one account.
func (s *AccountStore) Get(ctx context.Context, id string) (crawler.Account, error) {
	query := fmt.Sprintf(`SELECT id, status, cookies, nickname FROM %s WHERE id = $1`, s.table)
	var (
		a      crawler.Account
		status string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(&a.ID, &status, &a.Cookies, &a.Nickname)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Account{}, fmt.Errorf("get account %q: %w", id, crawler.ErrAccountNotFound)
	}
	if err != nil {
		return crawler.Account{}, fmt.Errorf("get account %q: %w", id, err)
	}
	a.Status = crawler.AccountStatus(status)
	return a, nil
}

// SetStatus updates an account status.
func (s *AccountStore) SetStatus(ctx context.Context, id string, status crawler.AccountStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = now() WHERE id = $1`, s.table)
	tag, err := s.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("set account %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set account %q status: %w", id, crawler.ErrAccountNotFound)
	}
	return nil
}

// Upsert inserts an account or replaces its credentials and status.
func (s *AccountStore) Upsert(ctx context.Context, a crawler.Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.Status == "" {
		a.Status = crawler.AccountActive
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, cookies, nickname)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
	cookies = EXCLUDED.cookies,
	nickname = EXCLUDED.nickname,
	updated_at = now()`, s.table)
	if _, err := s.db.Exec(ctx, query, a.ID, string(a.Status), a.Cookies, a.Nickname); err != nil {
		return fmt.Errorf("upsert account %q: %w", a.ID, err)
	}
	return nil
}
