package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pi_guard/internal/api"
	"pi_guard/internal/audit"
	"pi_guard/internal/contract"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository/memory"
	"pi_guard/internal/service"
	"pi_guard/pkg/crypto"
	"pi_guard/pkg/metrics"

	"github.com/shopspring/decimal"
)

type testEnv struct {
	store    *memory.Store
	auditLog *audit.MemoryLog
	events   *service.MemorySink
	notifier *service.NotificationService

	contract *contract.Contract
	auth     *api.GovernanceAuth
	signer   *crypto.Signer
	router   http.Handler
	logger   *slog.Logger
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	auditLog := audit.NewMemoryLog()
	events := service.NewMemorySink()
	logger := slog.Default()

	notifier := service.NewNotificationService([]service.Sink{events}, 2, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		notifier.Shutdown(ctx)
	})

	signer := crypto.NewSigner("test-secret", nil)
	c, err := contract.New(context.Background(), store, logger,
		contract.WithMetrics(metrics.NewMetricsCollector(nil)),
		contract.WithNotifier(notifier),
		contract.WithAuditSink(auditLog),
		contract.WithSigner(signer),
	)
	if err != nil {
		t.Fatalf("contract setup failed: %v", err)
	}

	auth := api.NewGovernanceAuth("governance-secret")
	handler := api.NewAPIHandler(c, signer, auth, nil, logger)

	return &testEnv{
		store:    store,
		auditLog: auditLog,
		events:   events,
		notifier: notifier,
		contract: c,
		auth:     auth,
		signer:   signer,
		router:   handler.Router(),
		logger:   logger,
	}
}

func mustInit(t *testing.T, env *testEnv) {
	t.Helper()
	if err := env.contract.Init(context.Background(), domain.DefaultGenesis()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
}

func call(t *testing.T, env *testEnv, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	return w
}

func filter(t *testing.T, env *testEnv, req api.FilterTransactionRequest) (domain.Decision, int) {
	t.Helper()
	w := call(t, env, http.MethodPost, "/api/v1/transactions/filter", req, "")
	var d domain.Decision
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
			t.Fatalf("decode decision failed: %v", err)
		}
	}
	return d, w.Code
}

func pi(units int64) decimal.Decimal {
	return domain.DefaultPinnedUnitValue.Mul(decimal.NewFromInt(units))
}

func TestIntegration_UninitializedContract(t *testing.T) {
	env := setup(t)

	_, code := filter(t, env, api.FilterTransactionRequest{
		Sender: "alice", Receiver: "bob", Amount: pi(1), Source: "mining",
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before genesis, got %d", code)
	}

	w := call(t, env, http.MethodGet, "/api/v1/status", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for status before genesis, got %d", w.Code)
	}
}

func TestIntegration_GenesisRequiresGovernance(t *testing.T) {
	env := setup(t)

	w := call(t, env, http.MethodPost, "/api/v1/genesis", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, err := env.auth.IssueToken("council-1", time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	w = call(t, env, http.MethodPost, "/api/v1/genesis", nil, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = call(t, env, http.MethodPost, "/api/v1/genesis", nil, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second genesis, got %d", w.Code)
	}
}

func TestIntegration_AdmitLawfulTransfer(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	d, code := filter(t, env, api.FilterTransactionRequest{
		Sender: "alice", Receiver: "bob", Amount: pi(1), Source: "mining", Metadata: "reward payout",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if d.Outcome != domain.OutcomeAdmit {
		t.Fatalf("expected admit, got %s (%s)", d.Outcome, d.Reason)
	}
	if got := env.auditLog.ForTransaction(d.TransactionID); len(got) != 1 || !got[0].Compliant {
		t.Fatalf("expected one compliant audit record, got %+v", got)
	}
}

func TestIntegration_GamblingFlagsThenFreezes(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	d, _ := filter(t, env, api.FilterTransactionRequest{
		Sender: "carol", Receiver: "bob", Amount: pi(1), Source: "mining", Metadata: "casino jackpot",
	})
	if d.Reason != domain.ReasonProhibitedContent {
		t.Fatalf("expected prohibited content, got %s", d.Reason)
	}

	acc, err := env.store.GetAccount(context.Background(), "carol")
	if err != nil {
		t.Fatalf("account not tracked: %v", err)
	}
	if acc.Status != domain.AccountFlagged {
		t.Fatalf("expected flagged, got %s", acc.Status)
	}

	d, _ = filter(t, env, api.FilterTransactionRequest{
		Sender: "carol", Receiver: "bob", Amount: decimal.NewFromInt(999), Source: "p2p",
	})
	if d.Reason != domain.ReasonValueMismatch {
		t.Fatalf("expected value mismatch, got %s", d.Reason)
	}

	d, _ = filter(t, env, api.FilterTransactionRequest{
		Sender: "carol", Receiver: "bob", Amount: pi(1), Source: "mining", Metadata: "reward payout",
	})
	if d.Reason != domain.ReasonAlreadyFrozen {
		t.Fatalf("expected already frozen, got %s", d.Reason)
	}

	w := call(t, env, http.MethodGet, "/api/v1/status", nil, "")
	var status domain.EcosystemStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status failed: %v", err)
	}
	if status.FrozenAccounts != 1 {
		t.Fatalf("expected 1 frozen account, got %d", status.FrozenAccounts)
	}
}

func TestIntegration_EventsOnViolation(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	filter(t, env, api.FilterTransactionRequest{
		Sender: "dave", Receiver: "bob", Amount: pi(1), Source: "",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range env.events.Events() {
			if e.Type == service.EventViolation && e.Account == "dave" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected violation event for dave")
}

func TestIntegration_SignedRequest(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	req := api.FilterTransactionRequest{
		ID: "tx-signed", Sender: "alice", Receiver: "bob", Amount: pi(2), Quantity: 2, Source: "p2p",
	}
	req.Signature = "deadbeef"
	if _, code := filter(t, env, req); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", code)
	}

	tx := domain.NewTransaction(req.Sender, req.Receiver, req.Amount).
		WithSource(req.Source).
		WithQuantity(req.Quantity)
	tx.ID = req.ID
	req.Signature = env.signer.SignTransaction(tx)
	d, code := filter(t, env, req)
	if code != http.StatusOK || !d.Admitted() {
		t.Fatalf("expected signed transfer admitted, got %d %+v", code, d)
	}
}

func TestIntegration_DuplicateTransaction(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	req := api.FilterTransactionRequest{
		ID: "tx-dup", Sender: "alice", Receiver: "bob", Amount: pi(1), Source: "mining",
	}
	if _, code := filter(t, env, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if _, code := filter(t, env, req); code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", code)
	}
}

func TestIntegration_InvalidRequestValidation(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	raw := []byte(`{"sender":"alice","amount":"314159"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/filter", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid request, got %d", w.Code)
	}
}

func TestIntegration_UnfreezeByGovernance(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	filter(t, env, api.FilterTransactionRequest{
		Sender: "erin", Receiver: "bob", Amount: pi(1), Source: "mining", Metadata: "poker night",
	})

	w := call(t, env, http.MethodPost, "/api/v1/governance/accounts/erin/unfreeze", api.UnfreezeRequest{Note: "appeal"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, _ := env.auth.IssueToken("council-1", time.Hour)
	w = call(t, env, http.MethodPost, "/api/v1/governance/accounts/erin/unfreeze", api.UnfreezeRequest{Note: "appeal"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var acc domain.AccountState
	if err := json.NewDecoder(w.Body).Decode(&acc); err != nil {
		t.Fatalf("decode account failed: %v", err)
	}
	if acc.Status != domain.AccountActive {
		t.Fatalf("expected active, got %s", acc.Status)
	}
	if len(acc.GovernanceActions) != 1 || acc.GovernanceActions[0].Operator != "council-1" {
		t.Fatalf("expected governance action by council-1, got %+v", acc.GovernanceActions)
	}

	w = call(t, env, http.MethodPost, "/api/v1/governance/accounts/ghost/unfreeze", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", w.Code)
	}
}

func TestIntegration_RunFullEcosystem(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	batch := []api.FilterTransactionRequest{
		{Sender: "alice", Receiver: "bob", Amount: pi(1), Source: "mining", Metadata: "reward payout"},
		{Sender: "frank", Receiver: "bob", Amount: pi(1), Source: "mining", Metadata: "lottery"},
		{Sender: "gina", Receiver: "bob", Amount: decimal.NewFromInt(999), Source: "p2p"},
	}
	w := call(t, env, http.MethodPost, "/api/v1/ecosystem/run", batch, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var report contract.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode report failed: %v", err)
	}
	if report.Admitted != 1 || report.Rejected != 2 {
		t.Fatalf("expected 1 admitted and 2 rejected, got %d/%d", report.Admitted, report.Rejected)
	}
	if report.Status.FlaggedAccounts != 2 {
		t.Fatalf("expected 2 flagged accounts, got %d", report.Status.FlaggedAccounts)
	}
}

func TestIntegration_ConcurrentFilters(t *testing.T) {
	env := setup(t)
	mustInit(t, env)

	n := 20
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			req := api.FilterTransactionRequest{
				Sender:   fmt.Sprintf("sender-%d", i%4),
				Receiver: "bob",
				Amount:   pi(1),
				Source:   "p2p",
			}
			if i%2 == 1 {
				req.Metadata = "place a bet"
			}
			_, _ = filter(t, env, req)
		}(i)
	}
	wg.Wait()

	accounts, err := env.store.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts failed: %v", err)
	}
	total := 0
	for _, acc := range accounts {
		total += len(acc.Violations)
	}
	if total != n/2 {
		t.Fatalf("expected %d violations recorded, got %d", n/2, total)
	}
}
