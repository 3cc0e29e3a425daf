package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"slices"
	"time"
)

// WorldState is the slice of the chaincode stub the store needs.
type WorldState interface {
	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	DelState(key string) error
}

const (
	genesisKey      = "GENESIS"
	verificationKey = "VERIFICATION"
	accountsKey     = "ACCOUNTS"
	returnsKey      = "RETURNS"
	accountPrefix   = "ACCOUNT_"
	settlePrefix    = "SETTLEMENT_"
	receivedPrefix  = "RECEIVED_"
	txPrefix        = "TX_"
)

var _ repository.Store = (*Store)(nil)

// Store maps the contract state onto a Fabric world state. Fabric does not expose writes of the
// running transaction through GetState, so every write is also kept in a local overlay that reads
// consult first. A Store must not outlive the transaction it was created for.
type Store struct {
	state   WorldState
	pending map[string][]byte
}

func New(state WorldState) *Store {
	return &Store{state: state, pending: make(map[string][]byte)}
}

func (s *Store) get(key string) ([]byte, error) {
	if v, ok := s.pending[key]; ok {
		return v, nil
	}
	v, err := s.state.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.state.PutState(key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.pending[key] = data
	return nil
}

func (s *Store) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *Store) getList(key string) ([]string, error) {
	var list []string
	if err := s.getJSON(key, &list); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.AccountState, error) {
	var account domain.AccountState
	if err := s.getJSON(accountPrefix+id, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) SaveAccount(_ context.Context, account *domain.AccountState) error {
	ids, err := s.getList(accountsKey)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, account.ID) {
		ids = append(ids, account.ID)
		slices.Sort(ids)
		if err := s.put(accountsKey, ids); err != nil {
			return err
		}
	}
	return s.put(accountPrefix+account.ID, account)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*domain.AccountState, error) {
	ids, err := s.getList(accountsKey)
	if err != nil {
		return nil, err
	}

	accounts := make([]*domain.AccountState, 0, len(ids))
	for _, id := range ids {
		account, err := s.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (s *Store) RecordSettlement(_ context.Context, settlement *domain.Settlement) error {
	existing, err := s.get(settlePrefix + settlement.TransactionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: settlement %s", repository.ErrDuplicate, settlement.TransactionID)
	}

	if err := s.put(settlePrefix+settlement.TransactionID, settlement); err != nil {
		return err
	}

	received, err := s.getList(receivedPrefix + settlement.Receiver)
	if err != nil {
		return err
	}
	return s.put(receivedPrefix+settlement.Receiver, append(received, settlement.TransactionID))
}

func (s *Store) ClaimTransaction(_ context.Context, record *domain.ProcessedTransaction) error {
	existing, err := s.get(txPrefix + record.TransactionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, record.TransactionID)
	}
	return s.put(txPrefix+record.TransactionID, record)
}

func (s *Store) ReleaseTransaction(_ context.Context, id string) error {
	if err := s.state.DelState(txPrefix + id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", txPrefix+id, err)
	}
	s.pending[txPrefix+id] = nil
	return nil
}

func (s *Store) ScheduleReturns(_ context.Context, receiver string, at time.Time) ([]*domain.FundReturn, error) {
	received, err := s.getList(receivedPrefix + receiver)
	if err != nil {
		return nil, err
	}

	var returns []*domain.FundReturn
	if err := s.getJSON(returnsKey, &returns); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var scheduled []*domain.FundReturn
	for _, id := range received {
		var settlement domain.Settlement
		if err := s.getJSON(settlePrefix+id, &settlement); err != nil {
			return nil, err
		}
		if settlement.ReturnScheduled {
			continue
		}
		settlement.ReturnScheduled = true
		if err := s.put(settlePrefix+id, &settlement); err != nil {
			return nil, err
		}
		ret := domain.NewFundReturn(&settlement, at)
		scheduled = append(scheduled, ret)
		returns = append(returns, ret)
	}

	if len(scheduled) > 0 {
		if err := s.put(returnsKey, returns); err != nil {
			return nil, err
		}
	}
	return scheduled, nil
}

func (s *Store) ListReturns(_ context.Context) ([]*domain.FundReturn, error) {
	var returns []*domain.FundReturn
	if err := s.getJSON(returnsKey, &returns); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return []*domain.FundReturn{}, nil
		}
		return nil, err
	}
	return returns, nil
}

func (s *Store) GetGenesis(_ context.Context) (*domain.Genesis, error) {
	var g domain.Genesis
	if err := s.getJSON(genesisKey, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) PutGenesis(_ context.Context, genesis *domain.Genesis) error {
	existing, err := s.get(genesisKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: genesis", repository.ErrDuplicate)
	}
	return s.put(genesisKey, genesis)
}

func (s *Store) GetVerification(_ context.Context) (*domain.Verification, error) {
	var v domain.Verification
	if err := s.getJSON(verificationKey, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) PutVerification(_ context.Context, v *domain.Verification) error {
	return s.put(verificationKey, v)
}
