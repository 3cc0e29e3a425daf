package repository

import (
	"context"
	"errors"
	"pi_guard/internal/domain"
	"time"
)

type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*domain.AccountState, error)
	SaveAccount(ctx context.Context, account *domain.AccountState) error
	ListAccounts(ctx context.Context) ([]*domain.AccountState, error)
}

type SettlementRepository interface {
	RecordSettlement(ctx context.Context, settlement *domain.Settlement) error
	// ScheduleReturns marks every admitted transfer received by the account that has not been
	// returned yet and yields the matching return orders.
	ScheduleReturns(ctx context.Context, receiver string, at time.Time) ([]*domain.FundReturn, error)
	ListReturns(ctx context.Context) ([]*domain.FundReturn, error)
}

// TransactionRepository remembers every transaction ID that reached a decision.
type TransactionRepository interface {
	// ClaimTransaction records the ID and fails with ErrDuplicate if it is already known.
	ClaimTransaction(ctx context.Context, record *domain.ProcessedTransaction) error
	// ReleaseTransaction forgets a claimed ID whose decision could not be committed.
	ReleaseTransaction(ctx context.Context, id string) error
}

type StateRepository interface {
	GetGenesis(ctx context.Context) (*domain.Genesis, error)
	PutGenesis(ctx context.Context, genesis *domain.Genesis) error
	GetVerification(ctx context.Context) (*domain.Verification, error)
	PutVerification(ctx context.Context, v *domain.Verification) error
}

// Store is everything the contract persists.
type Store interface {
	AccountRepository
	SettlementRepository
	TransactionRepository
	StateRepository
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
