package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"pi_guard/internal/api"
	"pi_guard/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func filterCmd() *cobra.Command {
	var req api.FilterTransactionRequest
	var amount string

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Filter a single transaction and print the decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			parsed, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			req.Amount = parsed

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			tx := toTransaction(req)
			decision, err := a.contract.FilterTransaction(ctx, tx)
			if err != nil && decision.TransactionID == "" {
				return err
			}
			if printErr := printJSON(cmd.OutOrStdout(), decision); printErr != nil {
				return printErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "transaction ID (generated when empty)")
	cmd.Flags().StringVar(&req.Sender, "sender", "", "sending account")
	cmd.Flags().StringVar(&req.Receiver, "receiver", "", "receiving account")
	cmd.Flags().StringVar(&amount, "amount", domain.DefaultPinnedUnitValue.String(), "transfer amount")
	cmd.Flags().Int64Var(&req.Quantity, "quantity", 0, "declared unit quantity (0 means 1)")
	cmd.Flags().StringVar(&req.Source, "source", "", "declared source tag")
	cmd.Flags().StringVar(&req.SourceProof, "proof", "", "source proof")
	cmd.Flags().StringVar(&req.Metadata, "metadata", "", "free-text memo")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("receiver")

	return cmd
}

func toTransaction(req api.FilterTransactionRequest) *domain.Transaction {
	tx := domain.NewTransaction(req.Sender, req.Receiver, req.Amount).
		WithSource(req.Source).
		WithMetadata(req.Metadata).
		WithQuantity(req.Quantity).
		WithProof(req.SourceProof)
	if req.ID != "" {
		tx.ID = req.ID
	}
	return tx
}

func readBatch(path string) ([]*domain.Transaction, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open batch: %w", err)
		}
		defer f.Close()
		r = f
	}

	var reqs []api.FilterTransactionRequest
	if err := json.NewDecoder(r).Decode(&reqs); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}

	txs := make([]*domain.Transaction, 0, len(reqs))
	for _, req := range reqs {
		txs = append(txs, toTransaction(req))
	}
	return txs, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
