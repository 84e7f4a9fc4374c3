// Package memory keeps accounts and raw pages in-process for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// AccountStore implements crawler.AccountStore on a map.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]crawler.Account
}

// NewAccountStore constructs an AccountStore seeded with accounts.
func NewAccountStore(accounts ...crawler.Account) *AccountStore {
	s := &AccountStore{accounts: make(map[string]crawler.Account, len(accounts))}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

// Put inserts or replaces an account.
func (s *AccountStore) Put(account crawler.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

// Upsert inserts or replaces an account, defaulting its status to active.
func (s *AccountStore) Upsert(_ context.Context, account crawler.Account) error {
	if account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if account.Status == "" {
		account.Status = crawler.AccountActive
	}
	s.Put(account)
	return nil
}

// ListActive returns active accounts ordered by id.
func (s *AccountStore) ListActive(_ context.Context) ([]crawler.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.Status == crawler.AccountActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns an account by id.
func (s *AccountStore) Get(_ context.Context, id string) (crawler.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return crawler.Account{}, fmt.Errorf("get account %q: %w", id, crawler.ErrAccountNotFound)
	}
	return a, nil
}

// SetStatus changes an account status.
func (s *AccountStore) SetStatus(_ context.Context, id string, status crawler.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("set account %q status: %w", id, crawler.ErrAccountNotFound)
	}
	a.Status = status
	s.accounts[id] = a
	return nil
}
