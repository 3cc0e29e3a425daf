package sqlstore

import (
	"context"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
)

func (s *Store) ClaimTransaction(ctx context.Context, record *domain.ProcessedTransaction) error {
	res, err := s.exec(ctx, s.db,
		`INSERT INTO processed_transactions (transaction_id, sender, outcome, decided_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (transaction_id) DO NOTHING`,
		record.TransactionID, record.Sender, string(record.Outcome), formatTime(record.DecidedAt))
	if err != nil {
		return fmt.Errorf("failed to claim transaction %s: %w", record.TransactionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to claim transaction %s: %w", record.TransactionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, record.TransactionID)
	}
	return nil
}

func (s *Store) ReleaseTransaction(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM processed_transactions WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("failed to release transaction %s: %w", id, err)
	}
	return nil
}
