package audit

import (
	"context"
	"testing"
	"time"

	"pi_guard/internal/domain"
	"pi_guard/pkg/crypto"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_PurityScore(t *testing.T) {
	tx := domain.NewTransaction("alice", "bob", decimal.NewFromInt(314159)).WithSource("mining")
	now := time.Now()

	admitted := NewRecord(tx, domain.Admit(tx.ID, now), nil)
	rejected := NewRecord(tx, domain.Reject(tx.ID, "content_filter",
		domain.Fail(domain.ReasonProhibitedContent, "casino"), now), nil)

	assert.Equal(t, 100, admitted.PurityScore)
	assert.True(t, admitted.Compliant)
	assert.Equal(t, 0, rejected.PurityScore)
	assert.False(t, rejected.Compliant)
	assert.Equal(t, domain.ReasonProhibitedContent, rejected.Reason)
	assert.NotEqual(t, admitted.ID, rejected.ID)
}

func TestNewRecord_Signed(t *testing.T) {
	signer := crypto.NewSigner("audit-secret", nil)
	tx := domain.NewTransaction("alice", "bob", decimal.NewFromInt(314159))

	rec := NewRecord(tx, domain.Admit(tx.ID, time.Now()), signer)

	require.NotEmpty(t, rec.Signature)
	ok, err := signer.VerifyAudit(*rec)
	require.NoError(t, err)
	assert.True(t, ok)

	rec.PurityScore = 0
	ok, _ = signer.VerifyAudit(*rec)
	assert.False(t, ok, "tampered record must not verify")
}

func TestMemoryLog(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, &domain.AuditRecord{ID: "1", TransactionID: "tx1"}))
	require.NoError(t, log.Record(ctx, &domain.AuditRecord{ID: "2", TransactionID: "tx2"}))
	require.NoError(t, log.Record(ctx, &domain.AuditRecord{ID: "3", TransactionID: "tx1"}))

	assert.Len(t, log.Records(), 3)
	got := log.ForTransaction("tx1")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
