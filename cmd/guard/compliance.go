package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

type rateSource interface {
	ComplianceRate(ctx context.Context, since time.Time) (map[string]float64, error)
}

type accountRate struct {
	Account string  `json:"account"`
	Rate    float64 `json:"rate"`
}

type rateReport struct {
	Since    time.Time     `json:"since"`
	Accounts []accountRate `json:"accounts"`
}

func complianceCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "compliance-rate",
		Short: "Print the share of compliant audit records per account from ClickHouse",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cfg.ClickHouse.Addr == "" {
				return errors.New("clickhouse.addr is not configured")
			}

			ch, err := openClickHouse(ctx, cfg)
			if err != nil {
				return err
			}
			defer ch.Close()

			return writeRates(ctx, cmd.OutOrStdout(), ch, time.Now().Add(-window))
		},
	}

	cmd.Flags().DurationVar(&window, "since", 24*time.Hour, "how far back to look")
	return cmd
}

func writeRates(ctx context.Context, w io.Writer, src rateSource, since time.Time) error {
	rates, err := src.ComplianceRate(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to query compliance rate: %w", err)
	}

	report := rateReport{Since: since.UTC(), Accounts: make([]accountRate, 0, len(rates))}
	for account, rate := range rates {
		report.Accounts = append(report.Accounts, accountRate{Account: account, Rate: rate})
	}
	sort.Slice(report.Accounts, func(i, j int) bool {
		return report.Accounts[i].Account < report.Accounts[j].Account
	})

	return printJSON(w, report)
}
