package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"time"
)

type ViolationOutcome struct {
	Account  *domain.AccountState
	Previous domain.AccountStatus
	Returns  []*domain.FundReturn
}

func (o *ViolationOutcome) Froze() bool {
	return o.Previous != domain.AccountFrozen && o.Account.Status == domain.AccountFrozen
}

// ViolationHandler is the only writer of account state during normal operation.
type ViolationHandler struct {
	accounts    repository.AccountRepository
	settlements repository.SettlementRepository
	registry    *Registry
	logger      *slog.Logger
}

func NewViolationHandler(
	accounts repository.AccountRepository,
	settlements repository.SettlementRepository,
	registry *Registry,
	logger *slog.Logger,
) *ViolationHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ViolationHandler{
		accounts:    accounts,
		settlements: settlements,
		registry:    registry,
		logger:      logger,
	}
}

// HandleViolation records a rejection against the account and advances its state:
// Active -> Flagged on the first violation, Flagged -> Frozen on the next one, straight to Frozen
// for severe rejections. Frozen never moves back here. Fund returns are scheduled for violations
// while already frozen or once the windowed violation count exceeds the genesis limit.
// Returns are scheduled before the account is saved, so a stored freeze always has its returns.
// Scheduling is idempotent per settlement, which makes a retry after a failed save safe.
// Any returned error means the violation was not recorded and the transaction must stay unsettled.
func (h *ViolationHandler) HandleViolation(
	ctx context.Context,
	accountID string,
	tx *domain.Transaction,
	decision domain.Decision,
	at time.Time,
) (*ViolationOutcome, error) {
	current, err := h.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		current = domain.NewAccountState(accountID, at)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	account := current.Clone()
	previous := account.Status

	account.Violations = append(account.Violations, domain.Violation{
		Sequence:      len(account.Violations) + 1,
		TransactionID: tx.ID,
		Reason:        decision.Reason,
		Detail:        decision.Detail,
		At:            at,
	})
	account.UpdatedAt = at

	scheduleReturns := false
	switch {
	case previous == domain.AccountFrozen:
		scheduleReturns = true
	case h.registry.Severe(decision), previous == domain.AccountFlagged:
		account.Status = domain.AccountFrozen
		frozenAt := at
		account.FrozenAt = &frozenAt
	default:
		account.Status = domain.AccountFlagged
	}

	genesis := h.registry.Genesis()
	if genesis.MaxViolationsInWindow > 0 && genesis.ViolationWindow > 0 &&
		account.ViolationsSince(at.Add(-genesis.ViolationWindow)) > genesis.MaxViolationsInWindow {
		scheduleReturns = true
	}

	outcome := &ViolationOutcome{Account: account, Previous: previous}

	if scheduleReturns {
		returns, err := h.settlements.ScheduleReturns(ctx, accountID, at)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule returns for %s: %w", accountID, err)
		}
		outcome.Returns = returns
	}

	if err := h.accounts.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save account %s: %w", accountID, err)
	}

	h.logger.WarnContext(ctx, "Violation recorded",
		slog.String("account", accountID),
		slog.String("transaction_id", tx.ID),
		slog.String("reason", string(decision.Reason)),
		slog.String("previous_status", string(previous)),
		slog.String("status", string(account.Status)),
		slog.Int("returns_scheduled", len(outcome.Returns)))

	return outcome, nil
}
