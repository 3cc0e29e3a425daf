package memory

import (
	"pi_guard/internal/repository"
)

var (
	_ repository.AccountRepository     = (*AccountRepository)(nil)
	_ repository.SettlementRepository  = (*SettlementRepository)(nil)
	_ repository.StateRepository       = (*StateRepository)(nil)
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
	_ repository.Store                 = (*Store)(nil)
)

type Store struct {
	*AccountRepository
	*SettlementRepository
	*TransactionRepository
	*StateRepository
}

func NewStore() *Store {
	return &Store{
		AccountRepository:     NewAccountRepository(),
		SettlementRepository:  NewSettlementRepository(),
		TransactionRepository: NewTransactionRepository(),
		StateRepository:       NewStateRepository(),
	}
}
