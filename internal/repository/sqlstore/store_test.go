package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pi_guard/internal/domain"
	"pi_guard/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "piguard.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRebindPostgres(t *testing.T) {
	got := rebindPostgres(`INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT (a) DO NOTHING`)

	assert.Equal(t, `INSERT INTO t (a, b) VALUES ($1, $2) ON CONFLICT (a) DO NOTHING`, got)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn", nil)

	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	version, err := s.SchemaVersion(ctx)

	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}

func TestAccounts_RoundTripWithHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 14, 15, 9, 26, 535000000, time.UTC)

	account := domain.NewAccountState("alice", now)
	account.Status = domain.AccountFlagged
	account.Violations = append(account.Violations, domain.Violation{
		Sequence: 1, TransactionID: "tx1", Reason: domain.ReasonValueMismatch, Detail: "999", At: now,
	})
	require.NoError(t, s.SaveAccount(ctx, account))

	account.Status = domain.AccountFrozen
	frozenAt := now.Add(time.Minute)
	account.FrozenAt = &frozenAt
	account.UpdatedAt = frozenAt
	account.Violations = append(account.Violations, domain.Violation{
		Sequence: 2, TransactionID: "tx2", Reason: domain.ReasonUnapprovedSource, At: frozenAt,
	})
	require.NoError(t, s.SaveAccount(ctx, account))

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.AccountFrozen, got.Status)
	require.NotNil(t, got.FrozenAt)
	assert.True(t, got.FrozenAt.Equal(frozenAt))
	require.Len(t, got.Violations, 2)
	assert.Equal(t, "tx1", got.Violations[0].TransactionID)
	assert.Equal(t, domain.ReasonUnapprovedSource, got.Violations[1].Reason)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestAccounts_HistoryIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	account := domain.NewAccountState("alice", now)
	account.Violations = []domain.Violation{{Sequence: 1, TransactionID: "tx1", Reason: domain.ReasonValueMismatch, At: now}}
	require.NoError(t, s.SaveAccount(ctx, account))

	account.Violations[0].TransactionID = "rewritten"
	require.NoError(t, s.SaveAccount(ctx, account))

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tx1", got.Violations[0].TransactionID)
}

func TestAccounts_NotFoundAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	for _, id := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.SaveAccount(ctx, domain.NewAccountState(id, now)))
	}
	unfrozen := domain.NewAccountState("dave", now)
	unfrozen.GovernanceActions = []domain.GovernanceAction{{Action: "unfreeze", Operator: "council", At: now}}
	require.NoError(t, s.SaveAccount(ctx, unfrozen))

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 4)
	assert.Equal(t, "alice", accounts[0].ID)
	assert.Equal(t, "dave", accounts[3].ID)
	require.Len(t, accounts[3].GovernanceActions, 1)
	assert.Equal(t, "council", accounts[3].GovernanceActions[0].Operator)
}

func TestSettlements_ScheduleReturnsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, sender := range []string{"carol", "dave"} {
		require.NoError(t, s.RecordSettlement(ctx, &domain.Settlement{
			TransactionID: "tx-" + sender,
			Sender:        sender,
			Receiver:      "alice",
			Amount:        decimal.NewFromInt(314159),
			AdmittedAt:    now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.RecordSettlement(ctx, &domain.Settlement{
		TransactionID: "tx-other", Sender: "carol", Receiver: "bob",
		Amount: decimal.NewFromInt(314159), AdmittedAt: now,
	}))

	err := s.RecordSettlement(ctx, &domain.Settlement{TransactionID: "tx-carol", Sender: "x", Receiver: "y", AdmittedAt: now})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	returns, err := s.ScheduleReturns(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.Equal(t, "carol", returns[0].To)
	assert.Equal(t, "dave", returns[1].To)
	assert.True(t, returns[0].Amount.Equal(decimal.NewFromInt(314159)))

	again, err := s.ScheduleReturns(ctx, "alice", now)
	require.NoError(t, err)
	assert.Empty(t, again)

	all, err := s.ListReturns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTransactions_ClaimSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piguard.db")
	ctx := context.Background()
	rec := &domain.ProcessedTransaction{
		TransactionID: "tx-1", Sender: "mallory", Outcome: domain.OutcomeReject, DecidedAt: time.Now().UTC(),
	}

	first, err := Open(ctx, DriverSQLite, path, nil)
	require.NoError(t, err)
	require.NoError(t, first.ClaimTransaction(ctx, rec))
	assert.ErrorIs(t, first.ClaimTransaction(ctx, rec), repository.ErrDuplicate)
	require.NoError(t, first.Close())

	second, err := Open(ctx, DriverSQLite, path, nil)
	require.NoError(t, err)
	defer second.Close()
	assert.ErrorIs(t, second.ClaimTransaction(ctx, rec), repository.ErrDuplicate)

	require.NoError(t, second.ReleaseTransaction(ctx, "tx-1"))
	assert.NoError(t, second.ClaimTransaction(ctx, rec))
}

func TestState_GenesisOnceAndVerification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetGenesis(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	g := domain.DefaultGenesis()
	require.NoError(t, s.PutGenesis(ctx, &g))
	assert.ErrorIs(t, s.PutGenesis(ctx, &g), repository.ErrDuplicate)

	got, err := s.GetGenesis(ctx)
	require.NoError(t, err)
	assert.True(t, got.PinnedUnitValue.Equal(domain.DefaultPinnedUnitValue))
	assert.Equal(t, g.ViolationWindow, got.ViolationWindow)
	assert.Equal(t, g.AllowedSources, got.AllowedSources)

	now := time.Now().UTC()
	require.NoError(t, s.PutVerification(ctx, &domain.Verification{TransactionID: "tx1", Outcome: domain.OutcomeAdmit, At: now}))
	require.NoError(t, s.PutVerification(ctx, &domain.Verification{TransactionID: "tx2", Outcome: domain.OutcomeReject, Reason: domain.ReasonValueMismatch, At: now}))

	v, err := s.GetVerification(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx2", v.TransactionID)
	assert.Equal(t, domain.ReasonValueMismatch, v.Reason)
}
