package compliance

import (
	"context"
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
)

// StatusReporter derives the ecosystem status on every read. Nothing it returns is stored.
type StatusReporter struct {
	store    repository.Store
	registry *Registry
}

func NewStatusReporter(store repository.Store, registry *Registry) *StatusReporter {
	return &StatusReporter{store: store, registry: registry}
}

func (r *StatusReporter) Report(ctx context.Context) (domain.EcosystemStatus, error) {
	status := domain.EcosystemStatus{
		Initialized:     true,
		PinnedUnitValue: r.registry.Genesis().PinnedUnitValue,
		ActiveRuleCount: r.registry.Len(),
		ActiveRules:     r.registry.RuleNames(),
		SourceCompliance: map[domain.SourceCategory]int{
			domain.SourceMining:             0,
			domain.SourceContributionReward: 0,
			domain.SourcePeerToPeer:         0,
			domain.SourceOther:              0,
			domain.SourceUnknown:            0,
		},
	}

	for category := range r.registry.Classifier().Tags() {
		if category.Approved() {
			status.SourceCompliance[category] = 100
		}
	}

	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return domain.EcosystemStatus{}, fmt.Errorf("failed to list accounts: %w", err)
	}
	status.TrackedAccounts = len(accounts)
	for _, account := range accounts {
		switch account.Status {
		case domain.AccountFrozen:
			status.FrozenAccounts++
		case domain.AccountFlagged:
			status.FlaggedAccounts++
		}
	}

	returns, err := r.store.ListReturns(ctx)
	if err != nil {
		return domain.EcosystemStatus{}, fmt.Errorf("failed to list returns: %w", err)
	}
	status.PendingReturns = len(returns)

	verification, err := r.store.GetVerification(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return domain.EcosystemStatus{}, fmt.Errorf("failed to load last verification: %w", err)
	default:
		status.LastVerification = verification
	}

	return status, nil
}
