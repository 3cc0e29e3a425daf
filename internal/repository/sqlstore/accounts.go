package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
)

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.AccountState, error) {
	var (
		account  domain.AccountState
		status   string
		frozenAt sql.NullString
		created  string
		updated  string
	)
	err := s.queryRow(ctx, s.db,
		`SELECT id, status, frozen_at, created_at, updated_at FROM accounts WHERE id = ?`, id).
		Scan(&account.ID, &status, &frozenAt, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	if err := fillAccount(&account, status, frozenAt, created, updated); err != nil {
		return nil, err
	}

	byAccount, err := s.loadViolations(ctx, `WHERE account_id = ?`, id)
	if err != nil {
		return nil, err
	}
	account.Violations = append(account.Violations, byAccount[id]...)

	actions, err := s.loadGovernance(ctx, `WHERE account_id = ?`, id)
	if err != nil {
		return nil, err
	}
	account.GovernanceActions = actions[id]

	return &account, nil
}

func fillAccount(a *domain.AccountState, status string, frozenAt sql.NullString, created, updated string) error {
	var err error
	a.Status = domain.AccountStatus(status)
	a.Violations = []domain.Violation{}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return fmt.Errorf("account %s: bad created_at: %w", a.ID, err)
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return fmt.Errorf("account %s: bad updated_at: %w", a.ID, err)
	}
	if frozenAt.Valid {
		t, err := parseTime(frozenAt.String)
		if err != nil {
			return fmt.Errorf("account %s: bad frozen_at: %w", a.ID, err)
		}
		a.FrozenAt = &t
	}
	return nil
}

func (s *Store) loadViolations(ctx context.Context, where string, args ...any) (map[string][]domain.Violation, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT account_id, sequence, transaction_id, reason, detail, at FROM violations `+where+
			` ORDER BY account_id, sequence`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.Violation)
	for rows.Next() {
		var (
			accountID string
			v         domain.Violation
			reason    string
			at        string
		)
		if err := rows.Scan(&accountID, &v.Sequence, &v.TransactionID, &reason, &v.Detail, &at); err != nil {
			return nil, err
		}
		v.Reason = domain.RejectReason(reason)
		if v.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("violation %s/%d: bad time: %w", accountID, v.Sequence, err)
		}
		result[accountID] = append(result[accountID], v)
	}
	return result, rows.Err()
}

func (s *Store) loadGovernance(ctx context.Context, where string, args ...any) (map[string][]domain.GovernanceAction, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT account_id, action, operator, note, at FROM governance_actions `+where+
			` ORDER BY account_id, sequence`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load governance actions: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.GovernanceAction)
	for rows.Next() {
		var (
			accountID string
			a         domain.GovernanceAction
			at        string
		)
		if err := rows.Scan(&accountID, &a.Action, &a.Operator, &a.Note, &at); err != nil {
			return nil, err
		}
		if a.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("governance action for %s: bad time: %w", accountID, err)
		}
		result[accountID] = append(result[accountID], a)
	}
	return result, rows.Err()
}

// SaveAccount upserts the account row and appends any history entries not stored yet. History
// rows are never updated or deleted.
func (s *Store) SaveAccount(ctx context.Context, account *domain.AccountState) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx,
			`INSERT INTO accounts (id, status, frozen_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET status = excluded.status, frozen_at = excluded.frozen_at,
				updated_at = excluded.updated_at`,
			account.ID, string(account.Status), nullTime(account.FrozenAt),
			formatTime(account.CreatedAt), formatTime(account.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", account.ID, err)
		}

		for _, v := range account.Violations {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO violations (account_id, sequence, transaction_id, reason, detail, at)
				VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (account_id, sequence) DO NOTHING`,
				account.ID, v.Sequence, v.TransactionID, string(v.Reason), v.Detail, formatTime(v.At)); err != nil {
				return fmt.Errorf("failed to append violation for %s: %w", account.ID, err)
			}
		}

		for i, a := range account.GovernanceActions {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO governance_actions (account_id, sequence, action, operator, note, at)
				VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (account_id, sequence) DO NOTHING`,
				account.ID, i+1, a.Action, a.Operator, a.Note, formatTime(a.At)); err != nil {
				return fmt.Errorf("failed to append governance action for %s: %w", account.ID, err)
			}
		}

		return nil
	})
}

func (s *Store) ListAccounts(ctx context.Context) ([]*domain.AccountState, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, status, frozen_at, created_at, updated_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var accounts []*domain.AccountState
	for rows.Next() {
		var (
			account  domain.AccountState
			status   string
			frozenAt sql.NullString
			created  string
			updated  string
		)
		if err := rows.Scan(&account.ID, &status, &frozenAt, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		if err := fillAccount(&account, status, frozenAt, created, updated); err != nil {
			rows.Close()
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	violations, err := s.loadViolations(ctx, "")
	if err != nil {
		return nil, err
	}
	actions, err := s.loadGovernance(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		account.Violations = append(account.Violations, violations[account.ID]...)
		account.GovernanceActions = actions[account.ID]
	}

	return accounts, nil
}
