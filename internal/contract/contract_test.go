package contract

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pi_guard/internal/audit"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"pi_guard/internal/repository/memory"
	"pi_guard/internal/repository/sqlstore"
	"pi_guard/internal/service"
	"pi_guard/pkg/validator"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContract(t *testing.T, opts ...Option) (*Contract, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	c, err := New(context.Background(), store, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background(), domain.DefaultGenesis()))
	return c, store
}

func tx(sender, receiver string, amount int64, source, metadata string) *domain.Transaction {
	return domain.NewTransaction(sender, receiver, decimal.NewFromInt(amount)).
		WithSource(source).
		WithMetadata(metadata)
}

func TestContract_UninitializedRejectsEverything(t *testing.T) {
	store := memory.NewStore()
	c, err := New(context.Background(), store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
	assert.ErrorIs(t, err, ErrUninitializedContract)

	_, err = c.GetEcosystemStatus(ctx)
	assert.ErrorIs(t, err, ErrUninitializedContract)

	_, err = c.RunFullEcosystem(ctx, nil)
	assert.ErrorIs(t, err, ErrUninitializedContract)

	_, err = c.Unfreeze(ctx, "alice", "gov", "")
	assert.ErrorIs(t, err, ErrUninitializedContract)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts, "no side effects before genesis")
}

func TestContract_InitOnce(t *testing.T) {
	c, _ := newContract(t)

	err := c.Init(context.Background(), domain.DefaultGenesis())

	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestContract_ReopenLoadsGenesis(t *testing.T) {
	_, store := newContract(t)

	reopened, err := New(context.Background(), store, nil)
	require.NoError(t, err)

	assert.True(t, reopened.Initialized())
	assert.ErrorIs(t, reopened.Init(context.Background(), domain.DefaultGenesis()), ErrAlreadyInitialized)
}

func TestContract_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("reward payout admitted", func(t *testing.T) {
		c, _ := newContract(t)
		d, err := c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
		require.NoError(t, err)
		assert.True(t, d.Admitted())
	})

	t.Run("casino jackpot rejected and sender flagged", func(t *testing.T) {
		c, _ := newContract(t)
		d, err := c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "casino jackpot"))
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonProhibitedContent, d.Reason)

		account, err := c.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.AccountFlagged, account.Status)
	})

	t.Run("wrong value rejected", func(t *testing.T) {
		c, _ := newContract(t)
		d, err := c.FilterTransaction(ctx, tx("alice", "bob", 999, "p2p", "transfer"))
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonValueMismatch, d.Reason)
	})

	t.Run("two rejections freeze the sender", func(t *testing.T) {
		c, _ := newContract(t)
		_, err := c.FilterTransaction(ctx, tx("alice", "bob", 999, "p2p", ""))
		require.NoError(t, err)
		_, err = c.FilterTransaction(ctx, tx("alice", "bob", 314159, "exchange", ""))
		require.NoError(t, err)

		account, err := c.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.AccountFrozen, account.Status)

		d, err := c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonAlreadyFrozen, d.Reason)
	})
}

func TestContract_FreezeIsMonotonic(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()

	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))

	for i := 0; i < 5; i++ {
		d, err := c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
		require.NoError(t, err)
		assert.False(t, d.Admitted())

		account, err := c.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.AccountFrozen, account.Status)
	}
}

func TestContract_ReceiverIsNotGated(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))

	d, err := c.FilterTransaction(ctx, tx("carol", "alice", 314159, "p2p", "rent"))

	require.NoError(t, err)
	assert.True(t, d.Admitted())
}

func TestContract_StatusIdempotentAndConsistent(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()

	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
	last := tx("carol", "bob", 314159, "mining", "poker")
	_, _ = c.FilterTransaction(ctx, last)

	first, err := c.GetEcosystemStatus(ctx)
	require.NoError(t, err)
	second, err := c.GetEcosystemStatus(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("status changed between reads (-first +second):\n%s", diff)
	}
	assert.Equal(t, 1, first.FlaggedAccounts)
	assert.Equal(t, 0, first.FrozenAccounts)
	require.NotNil(t, first.LastVerification)
	assert.Equal(t, last.ID, first.LastVerification.TransactionID)
	assert.Equal(t, domain.ReasonProhibitedContent, first.LastVerification.Reason)
}

func TestContract_InvalidTransactionHasNoSideEffects(t *testing.T) {
	c, store := newContract(t)
	ctx := context.Background()

	bad := tx("alice", "alice", 314159, "mining", "")
	_, err := c.FilterTransaction(ctx, bad)

	require.ErrorIs(t, err, validator.ErrInvalidTransaction)
	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	_, err = store.GetVerification(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestContract_DuplicateTransactionRefused(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()
	same := tx("alice", "bob", 314159, "mining", "reward payout")

	_, err := c.FilterTransaction(ctx, same)
	require.NoError(t, err)
	_, err = c.FilterTransaction(ctx, same)

	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestContract_ReplayedRejectionRefused(t *testing.T) {
	c, store := newContract(t)
	ctx := context.Background()
	gambling := tx("mallory", "bob", 314159, "mining", "casino")

	d, err := c.FilterTransaction(ctx, gambling)
	require.NoError(t, err)
	require.Equal(t, domain.ReasonProhibitedContent, d.Reason)

	_, err = c.FilterTransaction(ctx, gambling)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	account, err := store.GetAccount(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountFlagged, account.Status)
	assert.Len(t, account.Violations, 1)
}

func TestContract_DuplicateRefusedAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "piguard.db")
	gambling := tx("mallory", "bob", 314159, "mining", "casino")

	first, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, path, nil)
	require.NoError(t, err)
	c, err := New(ctx, first, nil)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx, domain.DefaultGenesis()))
	_, err = c.FilterTransaction(ctx, gambling)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, path, nil)
	require.NoError(t, err)
	defer second.Close()
	reopened, err := New(ctx, second, nil)
	require.NoError(t, err)
	require.True(t, reopened.Initialized())

	_, err = reopened.FilterTransaction(ctx, gambling)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	account, err := second.GetAccount(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountFlagged, account.Status)
	assert.Len(t, account.Violations, 1)
}

type brokenSettlements struct {
	*memory.Store
}

func (brokenSettlements) RecordSettlement(context.Context, *domain.Settlement) error {
	return errors.New("connection reset")
}

func TestContract_StorageFailureIsRejectedAndUnsettled(t *testing.T) {
	store := brokenSettlements{memory.NewStore()}
	c, err := New(context.Background(), store, nil)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background(), domain.DefaultGenesis()))

	d, err := c.FilterTransaction(context.Background(), tx("alice", "bob", 314159, "mining", "reward payout"))

	require.Error(t, err)
	assert.False(t, d.Admitted())
	assert.Equal(t, domain.ReasonStorageFailure, d.Reason)
	account, err := store.GetAccount(context.Background(), "alice")
	assert.Nil(t, account)
	assert.ErrorIs(t, err, repository.ErrNotFound, "a storage failure is not a violation")
	assert.NoError(t, store.ClaimTransaction(context.Background(), &domain.ProcessedTransaction{TransactionID: d.TransactionID}),
		"the id of an uncommitted decision is released")
}

func TestContract_FundReturnsAfterRepeatOffence(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()

	paid := tx("carol", "alice", 314159, "p2p", "invoice")
	d, err := c.FilterTransaction(ctx, paid)
	require.NoError(t, err)
	require.True(t, d.Admitted())

	for i := 0; i < 3; i++ {
		_, err := c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))
		require.NoError(t, err)
	}

	returns, err := c.ListFundReturns(ctx)
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, paid.ID, returns[0].TransactionID)
	assert.Equal(t, "alice", returns[0].From)
	assert.Equal(t, "carol", returns[0].To)
	assert.True(t, returns[0].Amount.Equal(paid.Amount))
}

func TestContract_Unfreeze(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))

	_, err := c.Unfreeze(ctx, "alice", "", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	account, err := c.Unfreeze(ctx, "alice", "council", "appeal granted")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, account.Status)
	assert.Nil(t, account.FrozenAt)
	assert.Len(t, account.Violations, 2)
	require.Len(t, account.GovernanceActions, 1)
	assert.Equal(t, "council", account.GovernanceActions[0].Operator)

	d, err := c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
	require.NoError(t, err)
	assert.True(t, d.Admitted())

	_, err = c.Unfreeze(ctx, "alice", "council", "")
	assert.ErrorIs(t, err, ErrAccountNotRestricted)

	_, err = c.Unfreeze(ctx, "nobody", "council", "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestContract_RunFullEcosystem(t *testing.T) {
	c, _ := newContract(t)

	report, err := c.RunFullEcosystem(context.Background(), []*domain.Transaction{
		tx("alice", "bob", 314159, "mining", "reward payout"),
		tx("carol", "bob", 314159, "mining", "casino jackpot"),
		tx("dave", "bob", 999, "p2p", "transfer"),
		tx("erin", "erin", 314159, "mining", ""),
	})

	require.NoError(t, err)
	require.Len(t, report.Entries, 4)
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Status.FlaggedAccounts)
	assert.NotEmpty(t, report.Entries[3].Error)
}

type recordingMetrics struct {
	mu        sync.Mutex
	decisions map[string]int
	freezes   int
	returns   int
	frozen    int
}

func (m *recordingMetrics) RecordDecision(outcome, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisions == nil {
		m.decisions = make(map[string]int)
	}
	m.decisions[outcome+"/"+reason]++
}

func (m *recordingMetrics) RecordFreeze() { m.freezes++ }

func (m *recordingMetrics) AddScheduledReturns(n int) { m.returns += n }

func (m *recordingMetrics) SetAccounts(_, _, frozen int) { m.frozen = frozen }

type recordingNotifier struct {
	events []service.ComplianceEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e service.ComplianceEvent) error {
	n.events = append(n.events, e)
	return nil
}

func TestContract_ObserversSeeCommittedOutcomes(t *testing.T) {
	metrics := &recordingMetrics{}
	notifier := &recordingNotifier{}
	auditLog := audit.NewMemoryLog()
	c, _ := newContract(t, WithMetrics(metrics), WithNotifier(notifier), WithAuditSink(auditLog))
	ctx := context.Background()

	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))
	_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 1, "mining", ""))
	_, err := c.GetEcosystemStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.decisions["admit/"])
	assert.Equal(t, 2, metrics.decisions["reject/ValueMismatch"])
	assert.Equal(t, 1, metrics.freezes)
	assert.Equal(t, 1, metrics.frozen)

	var types []service.EventType
	for _, e := range notifier.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []service.EventType{service.EventViolation, service.EventViolation, service.EventFreeze}, types)

	records := auditLog.Records()
	require.Len(t, records, 3)
	assert.Equal(t, 100, records[0].PurityScore)
	assert.Equal(t, 0, records[1].PurityScore)
}

func TestContract_ConcurrentFilterAndStatus(t *testing.T) {
	c, _ := newContract(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.FilterTransaction(ctx, tx("alice", "bob", 314159, "mining", "reward payout"))
		}()
		go func() {
			defer wg.Done()
			_, err := c.GetEcosystemStatus(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status, err := c.GetEcosystemStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastVerification)
	assert.Equal(t, domain.OutcomeAdmit, status.LastVerification.Outcome)
}
