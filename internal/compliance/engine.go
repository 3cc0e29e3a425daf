package compliance

import (
	"log/slog"
	"pi_guard/internal/domain"
	"time"
)

const accountGateRule = "account_gate"

type Engine struct {
	registry *Registry
	logger   *slog.Logger
}

func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		registry: registry,
		logger:   logger,
	}
}

// Evaluate decides a transaction without touching any state. A frozen sender is rejected before
// any rule runs; after that the registry rules run in order and the first failure wins.
// sender may be nil for an account the contract has never seen.
func (e *Engine) Evaluate(tx *domain.Transaction, sender *domain.AccountState, at time.Time) domain.Decision {
	if sender != nil && sender.Frozen() {
		return domain.Reject(tx.ID, accountGateRule,
			domain.Fail(domain.ReasonAlreadyFrozen, "sender "+sender.ID+" is frozen"), at)
	}

	for _, rule := range e.registry.rules {
		verdict := rule.Check(tx)
		if verdict.Passed() {
			continue
		}

		e.logger.Debug("Rule rejected transaction",
			slog.String("rule", rule.Name),
			slog.String("transaction_id", tx.ID),
			slog.String("reason", string(verdict.Reason)))
		return domain.Reject(tx.ID, rule.Name, verdict, at)
	}

	return domain.Admit(tx.ID, at)
}

func (e *Engine) Registry() *Registry { return e.registry }
