package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "piguard"

var _ repository.Store = (*Store)(nil)

// Store keeps every record as JSON under a common key prefix:
//
//	<prefix>:account:<id>            account state
//	<prefix>:accounts                set of account ids
//	<prefix>:settlement:<tx>         admitted settlement
//	<prefix>:tx:<tx>                 processed transaction id
//	<prefix>:received:<account>      list of settlement ids by receiver
//	<prefix>:returns                 list of scheduled fund returns
//	<prefix>:genesis, :verification  contract state
type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.AccountState, error) {
	var account domain.AccountState
	if err := s.getJSON(ctx, s.key("account", id), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) SaveAccount(ctx context.Context, account *domain.AccountState) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("account", account.ID), data, 0)
		pipe.SAdd(ctx, s.key("accounts"), account.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.ID, err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*domain.AccountState, error) {
	ids, err := s.client.SMembers(ctx, s.key("accounts")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.AccountState{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("account", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	accounts := make([]*domain.AccountState, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var account domain.AccountState
		if err := json.Unmarshal([]byte(raw), &account); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account %s: %w", ids[i], err)
		}
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

func (s *Store) RecordSettlement(ctx context.Context, settlement *domain.Settlement) error {
	data, err := json.Marshal(settlement)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key("settlement", settlement.TransactionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to record settlement %s: %w", settlement.TransactionID, err)
	}
	if !created {
		return fmt.Errorf("%w: settlement %s", repository.ErrDuplicate, settlement.TransactionID)
	}

	if err := s.client.RPush(ctx, s.key("received", settlement.Receiver), settlement.TransactionID).Err(); err != nil {
		return fmt.Errorf("failed to index settlement %s: %w", settlement.TransactionID, err)
	}
	return nil
}

func (s *Store) ClaimTransaction(ctx context.Context, record *domain.ProcessedTransaction) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key("tx", record.TransactionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim transaction %s: %w", record.TransactionID, err)
	}
	if !created {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, record.TransactionID)
	}
	return nil
}

func (s *Store) ReleaseTransaction(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key("tx", id)).Err(); err != nil {
		return fmt.Errorf("failed to release transaction %s: %w", id, err)
	}
	return nil
}

func (s *Store) ScheduleReturns(ctx context.Context, receiver string, at time.Time) ([]*domain.FundReturn, error) {
	ids, err := s.client.LRange(ctx, s.key("received", receiver), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load settlements for %s: %w", receiver, err)
	}

	var scheduled []*domain.FundReturn
	for _, id := range ids {
		var settlement domain.Settlement
		if err := s.getJSON(ctx, s.key("settlement", id), &settlement); err != nil {
			return scheduled, err
		}
		if settlement.ReturnScheduled {
			continue
		}

		settlement.ReturnScheduled = true
		ret := domain.NewFundReturn(&settlement, at)
		settlementData, err := json.Marshal(settlement)
		if err != nil {
			return scheduled, err
		}
		returnData, err := json.Marshal(ret)
		if err != nil {
			return scheduled, err
		}

		if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key("settlement", id), settlementData, 0)
			pipe.RPush(ctx, s.key("returns"), returnData)
			return nil
		}); err != nil {
			return scheduled, fmt.Errorf("failed to schedule return %s: %w", id, err)
		}
		scheduled = append(scheduled, ret)
	}

	return scheduled, nil
}

func (s *Store) ListReturns(ctx context.Context) ([]*domain.FundReturn, error) {
	values, err := s.client.LRange(ctx, s.key("returns"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list returns: %w", err)
	}

	returns := make([]*domain.FundReturn, 0, len(values))
	for _, v := range values {
		var ret domain.FundReturn
		if err := json.Unmarshal([]byte(v), &ret); err != nil {
			return nil, fmt.Errorf("failed to unmarshal return: %w", err)
		}
		returns = append(returns, &ret)
	}
	return returns, nil
}

func (s *Store) GetGenesis(ctx context.Context) (*domain.Genesis, error) {
	var g domain.Genesis
	if err := s.getJSON(ctx, s.key("genesis"), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) PutGenesis(ctx context.Context, genesis *domain.Genesis) error {
	data, err := json.Marshal(genesis)
	if err != nil {
		return fmt.Errorf("failed to marshal genesis: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key("genesis"), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store genesis: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: genesis", repository.ErrDuplicate)
	}
	return nil
}

func (s *Store) GetVerification(ctx context.Context) (*domain.Verification, error) {
	var v domain.Verification
	if err := s.getJSON(ctx, s.key("verification"), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) PutVerification(ctx context.Context, v *domain.Verification) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verification: %w", err)
	}
	return s.client.Set(ctx, s.key("verification"), data, 0).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
