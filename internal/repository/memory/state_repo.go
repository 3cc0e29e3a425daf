package memory

import (
	"context"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"sync"
)

type StateRepository struct {
	mu           sync.RWMutex
	genesis      *domain.Genesis
	verification *domain.Verification
}

func NewStateRepository() *StateRepository {
	return &StateRepository{}
}

func (r *StateRepository) GetGenesis(ctx context.Context) (*domain.Genesis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.genesis == nil {
		return nil, fmt.Errorf("%w: genesis", repository.ErrNotFound)
	}
	g := *r.genesis
	return &g, nil
}

func (r *StateRepository) PutGenesis(ctx context.Context, genesis *domain.Genesis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.genesis != nil {
		return fmt.Errorf("%w: genesis", repository.ErrDuplicate)
	}
	g := *genesis
	r.genesis = &g
	return nil
}

func (r *StateRepository) GetVerification(ctx context.Context) (*domain.Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.verification == nil {
		return nil, fmt.Errorf("%w: verification", repository.ErrNotFound)
	}
	v := *r.verification
	return &v, nil
}

func (r *StateRepository) PutVerification(ctx context.Context, v *domain.Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *v
	r.verification = &copied
	return nil
}
