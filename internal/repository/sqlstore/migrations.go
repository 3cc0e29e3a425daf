package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type Migration struct {
	Up          func(ctx context.Context, tx *sql.Tx) error
	Description string
	Version     int
}

func execAll(ctx context.Context, tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Accounts and violation history",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					frozen_at TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status)`,
				`CREATE TABLE IF NOT EXISTS violations (
					account_id TEXT NOT NULL REFERENCES accounts(id),
					sequence INTEGER NOT NULL,
					transaction_id TEXT NOT NULL,
					reason TEXT NOT NULL,
					detail TEXT NOT NULL DEFAULT '',
					at TEXT NOT NULL,
					PRIMARY KEY (account_id, sequence)
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Settlements and fund returns",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE IF NOT EXISTS settlements (
					transaction_id TEXT PRIMARY KEY,
					sender TEXT NOT NULL,
					receiver TEXT NOT NULL,
					amount TEXT NOT NULL,
					admitted_at TEXT NOT NULL,
					return_scheduled INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX IF NOT EXISTS idx_settlements_receiver ON settlements(receiver, return_scheduled)`,
				`CREATE TABLE IF NOT EXISTS fund_returns (
					transaction_id TEXT PRIMARY KEY REFERENCES settlements(transaction_id),
					from_account TEXT NOT NULL,
					to_account TEXT NOT NULL,
					amount TEXT NOT NULL,
					scheduled_at TEXT NOT NULL
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Contract state and governance actions",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE IF NOT EXISTS contract_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS governance_actions (
					account_id TEXT NOT NULL REFERENCES accounts(id),
					sequence INTEGER NOT NULL,
					action TEXT NOT NULL,
					operator TEXT NOT NULL,
					note TEXT NOT NULL DEFAULT '',
					at TEXT NOT NULL,
					PRIMARY KEY (account_id, sequence)
				)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Processed transaction ids",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE IF NOT EXISTS processed_transactions (
					transaction_id TEXT PRIMARY KEY,
					sender TEXT NOT NULL,
					outcome TEXT NOT NULL,
					decided_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_processed_sender ON processed_transactions(sender)`,
			)
		},
	},
}

// ExpectedSchemaVersion is the version Migrate must reach.
var ExpectedSchemaVersion = migrations[len(migrations)-1].Version

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := migration.Up(ctx, tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}
			if _, err := s.exec(ctx, tx,
				`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
				migration.Version, migration.Description); err != nil {
				return fmt.Errorf("failed to update schema version: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Info("Applied migration",
			slog.Int("version", migration.Version),
			slog.String("description", migration.Description))
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return int(version.Int64), nil
}
