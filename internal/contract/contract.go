package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"pi_guard/internal/audit"
	"pi_guard/internal/compliance"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"pi_guard/internal/service"
	"pi_guard/pkg/crypto"
	"pi_guard/pkg/validator"
	"sync"
	"time"
)

const storageRule = "storage"

var (
	ErrUninitializedContract = errors.New("contract is not initialized")
	ErrAlreadyInitialized    = errors.New("contract is already initialized")
	ErrAccountNotRestricted  = errors.New("account is neither flagged nor frozen")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
)

// Contract is the single entry point into the compliance machinery. Every operation runs to
// completion under the contract lock, so status readers never see a half-applied evaluation.
type Contract struct {
	mu    sync.RWMutex
	store repository.Store

	registry *compliance.Registry
	engine   *compliance.Engine
	handler  *compliance.ViolationHandler
	reporter *compliance.StatusReporter

	extensions []compliance.Rule
	validator  *validator.TransactionValidator
	metrics    MetricsRecorder
	notifier   Notifier
	audit      audit.Sink
	signer     *crypto.Signer
	now        func() time.Time
	logger     *slog.Logger
}

// New opens the contract over store. If the store already holds a genesis the contract comes up
// initialized with it; otherwise Init must be called first.
func New(ctx context.Context, store repository.Store, logger *slog.Logger, opts ...Option) (*Contract, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Contract{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.validator == nil {
		c.validator = validator.NewTransactionValidator()
	}

	genesis, err := store.GetGenesis(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.logger.Info("Contract awaiting genesis")
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load genesis: %w", err)
	}

	if err := c.install(*genesis); err != nil {
		return nil, err
	}
	c.logger.Info("Contract loaded existing genesis",
		slog.String("pinned_unit_value", genesis.PinnedUnitValue.String()),
		slog.Int("rules", c.registry.Len()))

	return c, nil
}

func (c *Contract) install(genesis domain.Genesis) error {
	registry, err := compliance.NewRegistry(genesis, c.extensions...)
	if err != nil {
		return err
	}

	c.registry = registry
	c.engine = compliance.NewEngine(registry, c.logger)
	c.handler = compliance.NewViolationHandler(c.store, c.store, registry, c.logger)
	c.reporter = compliance.NewStatusReporter(c.store, registry)
	return nil
}

// Init installs the genesis rule registry. It can succeed only once per store.
func (c *Contract) Init(ctx context.Context, genesis domain.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry != nil {
		return ErrAlreadyInitialized
	}
	if _, err := compliance.NewRegistry(genesis, c.extensions...); err != nil {
		return err
	}
	if genesis.CreatedAt.IsZero() {
		genesis.CreatedAt = c.now()
	}

	if err := c.store.PutGenesis(ctx, &genesis); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("failed to store genesis: %w", err)
	}
	if err := c.install(genesis); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "Contract initialized",
		slog.String("pinned_unit_value", genesis.PinnedUnitValue.String()),
		slog.Any("rules", c.registry.RuleNames()))

	return nil
}

func (c *Contract) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry != nil
}

// FilterTransaction validates, evaluates and commits one transaction. A non-nil error together
// with a reject decision means the transaction was refused but its consequences may not have
// been stored; it is never settled in that case.
func (c *Contract) FilterTransaction(ctx context.Context, tx *domain.Transaction) (domain.Decision, error) {
	startTime := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry == nil {
		return domain.Decision{}, ErrUninitializedContract
	}
	if err := c.validator.ValidateTransaction(tx); err != nil {
		return domain.Decision{}, err
	}

	now := c.now()

	sender, err := c.store.GetAccount(ctx, tx.Sender)
	if errors.Is(err, repository.ErrNotFound) {
		sender, err = nil, nil
	}
	if err != nil {
		return c.storageFailure(ctx, tx, now, startTime, fmt.Errorf("failed to load sender %s: %w", tx.Sender, err))
	}

	decision := c.engine.Evaluate(tx, sender, now)

	err = c.store.ClaimTransaction(ctx, &domain.ProcessedTransaction{
		TransactionID: tx.ID,
		Sender:        tx.Sender,
		Outcome:       decision.Outcome,
		DecidedAt:     now,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.Decision{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID)
	}
	if err != nil {
		return c.storageFailure(ctx, tx, now, startTime, fmt.Errorf("failed to claim transaction: %w", err))
	}

	var outcome *compliance.ViolationOutcome
	if decision.Admitted() {
		err := c.store.RecordSettlement(ctx, &domain.Settlement{
			TransactionID: tx.ID,
			Sender:        tx.Sender,
			Receiver:      tx.Receiver,
			Amount:        tx.Amount,
			AdmittedAt:    now,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Decision{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID)
		}
		if err != nil {
			c.release(ctx, tx.ID)
			return c.storageFailure(ctx, tx, now, startTime, fmt.Errorf("failed to record settlement: %w", err))
		}
	} else {
		outcome, err = c.handler.HandleViolation(ctx, tx.Sender, tx, decision, now)
		if err != nil {
			c.release(ctx, tx.ID)
			c.observe(ctx, tx, decision, nil, startTime)
			return decision, fmt.Errorf("violation for %s not committed: %w", tx.ID, err)
		}
	}

	if err := c.store.PutVerification(ctx, &domain.Verification{
		TransactionID: tx.ID,
		Outcome:       decision.Outcome,
		Reason:        decision.Reason,
		At:            now,
	}); err != nil {
		c.logger.WarnContext(ctx, "Failed to record last verification",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()))
	}

	c.observe(ctx, tx, decision, outcome, startTime)

	c.logger.InfoContext(ctx, "Transaction filtered",
		slog.String("transaction_id", tx.ID),
		slog.String("sender", tx.Sender),
		slog.String("outcome", string(decision.Outcome)),
		slog.String("reason", string(decision.Reason)))

	return decision, nil
}

func (c *Contract) storageFailure(
	ctx context.Context,
	tx *domain.Transaction,
	now time.Time,
	startTime time.Time,
	err error,
) (domain.Decision, error) {
	decision := domain.Reject(tx.ID, storageRule, domain.Fail(domain.ReasonStorageFailure, err.Error()), now)

	c.logger.ErrorContext(ctx, "Transaction rejected on storage failure",
		slog.String("transaction_id", tx.ID),
		slog.String("error", err.Error()))
	c.observe(ctx, tx, decision, nil, startTime)

	return decision, err
}

// release frees a claimed ID after its decision failed to commit, so the sender may resubmit it.
func (c *Contract) release(ctx context.Context, id string) {
	if err := c.store.ReleaseTransaction(ctx, id); err != nil {
		c.logger.ErrorContext(ctx, "Failed to release transaction id",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()))
	}
}

func (c *Contract) observe(
	ctx context.Context,
	tx *domain.Transaction,
	decision domain.Decision,
	outcome *compliance.ViolationOutcome,
	startTime time.Time,
) {
	if c.metrics != nil {
		c.metrics.RecordDecision(string(decision.Outcome), string(decision.Reason), time.Since(startTime))
		if outcome != nil {
			if outcome.Froze() {
				c.metrics.RecordFreeze()
			}
			c.metrics.AddScheduledReturns(len(outcome.Returns))
		}
	}

	if c.audit != nil {
		if err := c.audit.Record(ctx, audit.NewRecord(tx, decision, c.signer)); err != nil {
			c.logger.WarnContext(ctx, "Failed to write audit record",
				slog.String("transaction_id", tx.ID),
				slog.String("error", err.Error()))
		}
	}

	if c.notifier == nil || outcome == nil {
		return
	}

	event := service.ComplianceEvent{
		Type:          service.EventViolation,
		Account:       outcome.Account.ID,
		TransactionID: tx.ID,
		Reason:        decision.Reason,
		Status:        outcome.Account.Status,
		At:            decision.DecidedAt,
	}
	c.notify(ctx, event)

	if outcome.Froze() {
		event.Type = service.EventFreeze
		c.notify(ctx, event)
	}
	if len(outcome.Returns) > 0 {
		event.Type = service.EventFundReturn
		event.Returns = outcome.Returns
		c.notify(ctx, event)
	}
}

func (c *Contract) notify(ctx context.Context, event service.ComplianceEvent) {
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to queue compliance event",
			slog.String("type", string(event.Type)),
			slog.String("account", event.Account),
			slog.String("error", err.Error()))
	}
}

func (c *Contract) GetEcosystemStatus(ctx context.Context) (domain.EcosystemStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.registry == nil {
		return domain.EcosystemStatus{}, ErrUninitializedContract
	}

	status, err := c.reporter.Report(ctx)
	if err != nil {
		return domain.EcosystemStatus{}, err
	}

	if c.metrics != nil {
		active := status.TrackedAccounts - status.FlaggedAccounts - status.FrozenAccounts
		c.metrics.SetAccounts(active, status.FlaggedAccounts, status.FrozenAccounts)
	}

	return status, nil
}

type ReportEntry struct {
	TransactionID string          `json:"transaction_id"`
	Decision      domain.Decision `json:"decision"`
	Error         string          `json:"error,omitempty"`
}

type Report struct {
	Entries  []ReportEntry          `json:"entries"`
	Admitted int                    `json:"admitted"`
	Rejected int                    `json:"rejected"`
	Failed   int                    `json:"failed"`
	Status   domain.EcosystemStatus `json:"status"`
}

// RunFullEcosystem filters the batch in order and then reads the status. Each transaction is its
// own atomic step; a failing transaction is reported and the batch continues.
func (c *Contract) RunFullEcosystem(ctx context.Context, txs []*domain.Transaction) (*Report, error) {
	if !c.Initialized() {
		return nil, ErrUninitializedContract
	}

	report := &Report{Entries: make([]ReportEntry, 0, len(txs))}
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := c.FilterTransaction(ctx, tx)
		entry := ReportEntry{TransactionID: tx.ID, Decision: decision}
		switch {
		case err != nil:
			entry.Error = err.Error()
			report.Failed++
		case decision.Admitted():
			report.Admitted++
		default:
			report.Rejected++
		}
		report.Entries = append(report.Entries, entry)
	}

	status, err := c.GetEcosystemStatus(ctx)
	if err != nil {
		return nil, err
	}
	report.Status = status

	c.logger.InfoContext(ctx, "Ecosystem run complete",
		slog.Int("transactions", len(txs)),
		slog.Int("admitted", report.Admitted),
		slog.Int("rejected", report.Rejected),
		slog.Int("failed", report.Failed),
		slog.Int("frozen_accounts", status.FrozenAccounts))

	return report, nil
}

func (c *Contract) GetAccount(ctx context.Context, id string) (*domain.AccountState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.registry == nil {
		return nil, ErrUninitializedContract
	}
	return c.store.GetAccount(ctx, id)
}

func (c *Contract) ListFundReturns(ctx context.Context) ([]*domain.FundReturn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.registry == nil {
		return nil, ErrUninitializedContract
	}
	return c.store.ListReturns(ctx)
}

func (c *Contract) Genesis() (domain.Genesis, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.registry == nil {
		return domain.Genesis{}, ErrUninitializedContract
	}
	return c.registry.Genesis(), nil
}

// Unfreeze is the governance override that returns a flagged or frozen account to active.
// The violation history is kept and the action itself is appended to the account.
func (c *Contract) Unfreeze(ctx context.Context, accountID, operator, note string) (*domain.AccountState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry == nil {
		return nil, ErrUninitializedContract
	}
	if operator == "" {
		return nil, fmt.Errorf("%w: governance operator required", ErrUnauthorized)
	}

	current, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.AccountActive {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotRestricted, accountID)
	}

	now := c.now()
	account := current.Clone()
	account.Status = domain.AccountActive
	account.FrozenAt = nil
	account.UpdatedAt = now
	account.GovernanceActions = append(account.GovernanceActions, domain.GovernanceAction{
		Action:   "unfreeze",
		Operator: operator,
		Note:     note,
		At:       now,
	})

	if err := c.store.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save account %s: %w", accountID, err)
	}

	c.logger.WarnContext(ctx, "Account unfrozen by governance",
		slog.String("account", accountID),
		slog.String("operator", operator),
		slog.String("previous_status", string(current.Status)))

	if c.notifier != nil {
		c.notify(ctx, service.ComplianceEvent{
			Type:     service.EventUnfreeze,
			Account:  accountID,
			Status:   account.Status,
			Operator: operator,
			At:       now,
		})
	}

	return account, nil
}
