package memory

import (
	"context"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"sync"
)

type TransactionRepository struct {
	mu        sync.RWMutex
	processed map[string]*domain.ProcessedTransaction
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		processed: make(map[string]*domain.ProcessedTransaction),
	}
}

func (r *TransactionRepository) ClaimTransaction(ctx context.Context, record *domain.ProcessedTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processed[record.TransactionID]; exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, record.TransactionID)
	}

	copied := *record
	r.processed[record.TransactionID] = &copied
	return nil
}

func (r *TransactionRepository) ReleaseTransaction(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.processed, id)
	return nil
}
