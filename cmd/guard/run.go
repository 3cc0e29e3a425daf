package main

import (
	"log/slog"
	"pi_guard/internal/service"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var batchFile string
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Filter a batch of transactions, then print the report and status",
		Long: `run reads a JSON array of transactions (from --file or stdin), filters them in
order against the contract and prints the combined report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			txs, err := readBatch(batchFile)
			if err != nil {
				return err
			}

			events := service.NewMemorySink()
			a, err := newApp(ctx, cfg, events)
			if err != nil {
				return err
			}

			report, err := a.contract.RunFullEcosystem(ctx, txs)
			a.close(ctx)
			if err != nil {
				return err
			}

			if !showEvents {
				return printJSON(cmd.OutOrStdout(), report)
			}

			slog.Debug("Collected compliance events", slog.Int("events", len(events.Events())))
			return printJSON(cmd.OutOrStdout(), struct {
				Report interface{}               `json:"report"`
				Events []service.ComplianceEvent `json:"events"`
			}{report, events.Events()})
		},
	}

	cmd.Flags().StringVarP(&batchFile, "file", "f", "-", "JSON batch file (- for stdin)")
	cmd.Flags().BoolVar(&showEvents, "events", false, "include the compliance events raised by the batch")

	return cmd
}
