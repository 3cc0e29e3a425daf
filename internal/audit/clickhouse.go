package audit

import (
	"context"
	"fmt"
	"pi_guard/internal/domain"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// ClickHouseSink appends audit records to a MergeTree table for offline compliance analytics.
type ClickHouseSink struct {
	conn driver.Conn
}

func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS purity_audit (
			id String,
			transaction_id String,
			account String,
			outcome LowCardinality(String),
			reason LowCardinality(String),
			purity_score UInt8,
			compliant Bool,
			timestamp DateTime64(3),
			signature String
		) ENGINE = MergeTree()
		ORDER BY (account, timestamp)
	`); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

var _ Sink = (*ClickHouseSink)(nil)

func (s *ClickHouseSink) Record(ctx context.Context, rec *domain.AuditRecord) error {
	return s.RecordBatch(ctx, []*domain.AuditRecord{rec})
}

func (s *ClickHouseSink) RecordBatch(ctx context.Context, records []*domain.AuditRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO purity_audit")
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}

	for _, rec := range records {
		if err := batch.Append(
			rec.ID,
			rec.TransactionID,
			rec.Account,
			string(rec.Outcome),
			string(rec.Reason),
			uint8(rec.PurityScore),
			rec.Compliant,
			rec.Timestamp,
			rec.Signature,
		); err != nil {
			return fmt.Errorf("failed to append audit record %s: %w", rec.ID, err)
		}
	}

	return batch.Send()
}

// ComplianceRate returns the share of compliant records per account since the given time.
func (s *ClickHouseSink) ComplianceRate(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT account, avg(toUInt8(compliant))
		FROM purity_audit
		WHERE timestamp >= ?
		GROUP BY account
		ORDER BY account
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var (
			account string
			rate    float64
		)
		if err := rows.Scan(&account, &rate); err != nil {
			return nil, err
		}
		result[account] = rate
	}

	return result, rows.Err()
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
