package memory

import (
	"context"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"sync"
	"time"
)

type SettlementRepository struct {
	mu          sync.RWMutex
	settlements map[string]*domain.Settlement
	index       map[string][]string
	returns     []*domain.FundReturn
}

func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{
		settlements: make(map[string]*domain.Settlement),
		index:       make(map[string][]string),
	}
}

func (r *SettlementRepository) RecordSettlement(ctx context.Context, s *domain.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.settlements[s.TransactionID]; exists {
		return fmt.Errorf("%w: settlement %s", repository.ErrDuplicate, s.TransactionID)
	}

	copied := *s
	r.settlements[s.TransactionID] = &copied
	r.index[s.Receiver] = append(r.index[s.Receiver], s.TransactionID)

	return nil
}

func (r *SettlementRepository) ScheduleReturns(ctx context.Context, receiver string, at time.Time) ([]*domain.FundReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var scheduled []*domain.FundReturn
	for _, id := range r.index[receiver] {
		s := r.settlements[id]
		if s.ReturnScheduled {
			continue
		}
		s.ReturnScheduled = true
		ret := domain.NewFundReturn(s, at)
		r.returns = append(r.returns, ret)
		scheduled = append(scheduled, ret)
	}

	return scheduled, nil
}

func (r *SettlementRepository) ListReturns(ctx context.Context) ([]*domain.FundReturn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.FundReturn, len(r.returns))
	copy(result, r.returns)
	return result, nil
}
