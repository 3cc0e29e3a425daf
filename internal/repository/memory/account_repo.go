package memory

import (
	"context"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"sort"
	"sync"
)

type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.AccountState
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.AccountState),
	}
}

func (r *AccountRepository) GetAccount(ctx context.Context, id string) (*domain.AccountState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return account.Clone(), nil
}

func (r *AccountRepository) SaveAccount(ctx context.Context, account *domain.AccountState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[account.ID] = account.Clone()
	return nil
}

func (r *AccountRepository) ListAccounts(ctx context.Context) ([]*domain.AccountState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.AccountState, 0, len(r.accounts))
	for _, account := range r.accounts {
		result = append(result, account.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}
