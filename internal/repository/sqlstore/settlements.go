package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"time"

	"github.com/shopspring/decimal"
)

func (s *Store) RecordSettlement(ctx context.Context, settlement *domain.Settlement) error {
	res, err := s.exec(ctx, s.db,
		`INSERT INTO settlements (transaction_id, sender, receiver, amount, admitted_at, return_scheduled)
		VALUES (?, ?, ?, ?, ?, 0) ON CONFLICT (transaction_id) DO NOTHING`,
		settlement.TransactionID, settlement.Sender, settlement.Receiver,
		settlement.Amount.String(), formatTime(settlement.AdmittedAt))
	if err != nil {
		return fmt.Errorf("failed to record settlement %s: %w", settlement.TransactionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record settlement %s: %w", settlement.TransactionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: settlement %s", repository.ErrDuplicate, settlement.TransactionID)
	}
	return nil
}

func (s *Store) ScheduleReturns(ctx context.Context, receiver string, at time.Time) ([]*domain.FundReturn, error) {
	var scheduled []*domain.FundReturn

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.query(ctx, tx,
			`SELECT transaction_id, sender, receiver, amount FROM settlements
			WHERE receiver = ? AND return_scheduled = 0 ORDER BY admitted_at, transaction_id`, receiver)
		if err != nil {
			return fmt.Errorf("failed to load settlements for %s: %w", receiver, err)
		}

		var pending []*domain.Settlement
		for rows.Next() {
			var (
				settlement domain.Settlement
				amount     string
			)
			if err := rows.Scan(&settlement.TransactionID, &settlement.Sender, &settlement.Receiver, &amount); err != nil {
				rows.Close()
				return err
			}
			if settlement.Amount, err = decimal.NewFromString(amount); err != nil {
				rows.Close()
				return fmt.Errorf("settlement %s: bad amount: %w", settlement.TransactionID, err)
			}
			pending = append(pending, &settlement)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, settlement := range pending {
			ret := domain.NewFundReturn(settlement, at)
			if _, err := s.exec(ctx, tx,
				`INSERT INTO fund_returns (transaction_id, from_account, to_account, amount, scheduled_at)
				VALUES (?, ?, ?, ?, ?)`,
				ret.TransactionID, ret.From, ret.To, ret.Amount.String(), formatTime(ret.ScheduledAt)); err != nil {
				return fmt.Errorf("failed to schedule return %s: %w", ret.TransactionID, err)
			}
			if _, err := s.exec(ctx, tx,
				`UPDATE settlements SET return_scheduled = 1 WHERE transaction_id = ?`,
				settlement.TransactionID); err != nil {
				return fmt.Errorf("failed to mark settlement %s: %w", settlement.TransactionID, err)
			}
			scheduled = append(scheduled, ret)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return scheduled, nil
}

func (s *Store) ListReturns(ctx context.Context) ([]*domain.FundReturn, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT transaction_id, from_account, to_account, amount, scheduled_at FROM fund_returns
		ORDER BY scheduled_at, transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list returns: %w", err)
	}
	defer rows.Close()

	var returns []*domain.FundReturn
	for rows.Next() {
		var (
			ret         domain.FundReturn
			amount      string
			scheduledAt string
		)
		if err := rows.Scan(&ret.TransactionID, &ret.From, &ret.To, &amount, &scheduledAt); err != nil {
			return nil, err
		}
		if ret.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("return %s: bad amount: %w", ret.TransactionID, err)
		}
		if ret.ScheduledAt, err = parseTime(scheduledAt); err != nil {
			return nil, fmt.Errorf("return %s: bad time: %w", ret.TransactionID, err)
		}
		returns = append(returns, &ret)
	}

	return returns, rows.Err()
}
