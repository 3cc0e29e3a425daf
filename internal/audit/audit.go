package audit

import (
	"context"
	"pi_guard/internal/domain"
	"pi_guard/pkg/crypto"
	"sync"

	"github.com/google/uuid"
)

type Sink interface {
	Record(ctx context.Context, rec *domain.AuditRecord) error
}

// NewRecord builds the purity audit entry for one decision. The score is binary: a transaction is
// either fully compliant or not at all.
func NewRecord(tx *domain.Transaction, d domain.Decision, signer *crypto.Signer) *domain.AuditRecord {
	rec := &domain.AuditRecord{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		Account:       tx.Sender,
		Outcome:       d.Outcome,
		Reason:        d.Reason,
		Compliant:     d.Admitted(),
		Timestamp:     d.DecidedAt,
	}
	if rec.Compliant {
		rec.PurityScore = 100
	}
	if signer != nil {
		rec.Signature = signer.SignAudit(*rec)
	}
	return rec
}

type MemoryLog struct {
	mu      sync.RWMutex
	records []*domain.AuditRecord
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Record(_ context.Context, rec *domain.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *rec
	l.records = append(l.records, &copied)
	return nil
}

func (l *MemoryLog) Records() []*domain.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*domain.AuditRecord, len(l.records))
	copy(result, l.records)
	return result
}

// ForTransaction returns the records of one transaction in insertion order.
func (l *MemoryLog) ForTransaction(id string) []*domain.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.AuditRecord
	for _, rec := range l.records {
		if rec.TransactionID == id {
			result = append(result, rec)
		}
	}
	return result
}
