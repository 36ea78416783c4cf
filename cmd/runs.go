package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/northbound-research/filings-cli/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect reconciliation run history",
	Long:  "Commands for listing runs, viewing one run, and showing the current watermark.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, entries)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entry, err := st.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

// -- runs watermark --

var runsWatermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Show the last successfully reconciled date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		wm, ok, err := st.LatestSuccessfulWatermark(ctx)
		if err != nil {
			return eris.Wrap(err, "runs watermark")
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "No completed runs yet.")
			return nil
		}

		fmt.Println(wm.String())
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsWatermarkCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of ledger entries to w.
func formatRunsList(out io.Writer, entries []model.RunLedgerEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tWINDOW\tSTATUS\tSEEN\tNEW\tSUPERSEDED\tFAILED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t----\t---\t----------\t------\t-------\t--------")

	for _, e := range entries {
		dur := ""
		if e.EndedAt != nil {
			dur = e.EndedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(e.RunID),
			e.Mode,
			e.WindowStart, e.WindowEnd,
			e.Status,
			e.RecordsSeen,
			e.RecordsNew,
			e.RecordsSuperseded,
			e.RecordsFailed,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunSummary writes the outcome of a single run to w.
func formatRunSummary(out io.Writer, e *model.RunLedgerEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", e.RunID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", e.Mode)
	_, _ = fmt.Fprintf(w, "Window:\t%s..%s\n", e.WindowStart, e.WindowEnd)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", e.Status)
	_, _ = fmt.Fprintf(w, "Seen:\t%d\n", e.RecordsSeen)
	_, _ = fmt.Fprintf(w, "New:\t%d\n", e.RecordsNew)
	_, _ = fmt.Fprintf(w, "Superseded:\t%d\n", e.RecordsSuperseded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", e.RecordsFailed)
	if e.EndedAt != nil {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", e.EndedAt.Sub(e.StartedAt).Round(time.Second))
	}
	if e.ErrorDetail != "" {
		_, _ = fmt.Fprintf(w, "Detail:\t%s\n", e.ErrorDetail)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
