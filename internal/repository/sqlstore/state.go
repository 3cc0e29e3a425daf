package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
)

const (
	genesisKey      = "genesis"
	verificationKey = "last_verification"
)

func (s *Store) getState(ctx context.Context, key string, v any) error {
	var value string
	err := s.queryRow(ctx, s.db, `SELECT value FROM contract_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetGenesis(ctx context.Context) (*domain.Genesis, error) {
	var g domain.Genesis
	if err := s.getState(ctx, genesisKey, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// PutGenesis stores the genesis exactly once.
func (s *Store) PutGenesis(ctx context.Context, genesis *domain.Genesis) error {
	data, err := json.Marshal(genesis)
	if err != nil {
		return fmt.Errorf("failed to encode genesis: %w", err)
	}

	res, err := s.exec(ctx, s.db,
		`INSERT INTO contract_state (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
		genesisKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to store genesis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: genesis", repository.ErrDuplicate)
	}
	return nil
}

func (s *Store) GetVerification(ctx context.Context) (*domain.Verification, error) {
	var v domain.Verification
	if err := s.getState(ctx, verificationKey, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) PutVerification(ctx context.Context, v *domain.Verification) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}

	if _, err := s.exec(ctx, s.db,
		`INSERT INTO contract_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		verificationKey, string(data)); err != nil {
		return fmt.Errorf("failed to store verification: %w", err)
	}
	return nil
}
