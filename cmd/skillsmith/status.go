package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillsmith/pkg/address"
	"github.com/jingkaihe/skillsmith/pkg/ledger"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
	"github.com/jingkaihe/skillsmith/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [address]",
	Short: "Show ingestion progress and run history",
	Long: `Without an address, list every document ledger followed by the most recent
runs. With an address, show that document's ledger, including each failed chunk
and its error class, and its runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		q := store.RunQuery{Status: store.RunStatus(status), Limit: limit}
		if len(args) == 1 {
			return showDocumentStatus(cmd.Context(), args[0], q)
		}
		return showAllStatus(cmd.Context(), q)
	},
}

func init() {
	statusCmd.Flags().Int("limit", 10, "Maximum number of runs to show")
	statusCmd.Flags().String("status", "", "Only show runs with this status (running, completed, partial, failed)")
}

func showDocumentStatus(ctx context.Context, raw string, q store.RunQuery) error {
	addr, err := address.Parse(raw)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(st)

	p, err := newPipeline(st, nil)
	if err != nil {
		return err
	}

	rec, err := p.Ledgers().Load(addr)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		presenter.Warning("no ledger recorded for " + addr.String())
	case err != nil:
		return err
	default:
		presenter.Ledger(ledgerSummary(rec, rec.TotalChunks))
	}

	q.Address = addr.String()
	runs, err := st.ListRuns(ctx, q)
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func showAllStatus(ctx context.Context, q store.RunQuery) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(st)

	p, err := newPipeline(st, nil)
	if err != nil {
		return err
	}

	records, err := p.Ledgers().List()
	if err != nil {
		return err
	}
	presenter.Section("Documents")
	if len(records) == 0 {
		presenter.Info("no documents ingested yet")
	}
	for _, rec := range records {
		presenter.Ledger(ledgerSummary(rec, rec.TotalChunks))
	}

	runs, err := st.ListRuns(ctx, q)
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func printRuns(runs []store.Run) {
	presenter.Section("Runs")
	if len(runs) == 0 {
		presenter.Info("no runs recorded")
		return
	}
	for _, r := range runs {
		presenter.Info(formatRun(r))
	}
}

func formatRun(r store.Run) string {
	line := fmt.Sprintf("%s %s %-9s %s mode=%s chunks=%d/%d failed=%d",
		r.StartedAt.Local().Format(time.DateTime), r.RunID[:min(8, len(r.RunID))], r.Status,
		r.Source, r.Mode, r.CompletedChunks, r.TotalChunks, r.FailedChunks)
	if r.SkillID != "" {
		line += " skill=" + r.SkillID
	}
	if r.FinishedAt != nil {
		line += " took=" + r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
	}
	if r.Error != "" {
		line += " error=" + r.Error
	}
	return line
}
