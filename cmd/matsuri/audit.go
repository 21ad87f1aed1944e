package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/paths"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit [run-id]",
	Short: "Inspect the audit trail of a debug run",
	Long:  `Lists the per-item audit records written by a run with debug.enabled set. Without a run ID, lists the runs that have an audit log.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		debugDir := paths.DebugDir(paths.DataDir(cfg.Data.Dir))
		if len(args) == 0 {
			return listAuditRuns(debugDir)
		}

		runID := args[0]
		logPath := filepath.Join(debugDir, runID+".jsonl")
		if _, err := os.Stat(logPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no audit log for run %s; runs record one only with debug.enabled set", runID)
			}
			return err
		}

		filter := &audit.Filter{}
		filter.Stage, _ = cmd.Flags().GetString("stage")
		filter.Link, _ = cmd.Flags().GetString("link")
		if discarded, _ := cmd.Flags().GetBool("discarded"); discarded {
			filter.Survived = boolPtr(false)
		}

		records, err := audit.NewFileRecorder(logPath, true).Query(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No records match.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TIME\tSTAGE\tLINK\tCACHE\tOUTCOME")
		for _, rec := range records {
			cacheMark := "fresh"
			if rec.CacheHit {
				cacheMark = "hit"
			}
			outcome := "kept: " + truncateCell(rec.Verdict, 48)
			if !rec.Survived {
				outcome = rec.DiscardReason
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.Timestamp.Format(time.TimeOnly),
				rec.Stage,
				rec.Link,
				cacheMark,
				outcome)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		fmt.Printf("\nTotal: %d record(s)\n", len(records))
		return nil
	},
}

func listAuditRuns(debugDir string) error {
	entries, err := os.ReadDir(debugDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No audit logs found. Set debug.enabled to record them.")
			return nil
		}
		return err
	}

	var runs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			runs = append(runs, strings.TrimSuffix(entry.Name(), ".jsonl"))
		}
	}
	if len(runs) == 0 {
		fmt.Println("No audit logs found. Set debug.enabled to record them.")
		return nil
	}

	// Run IDs are ULIDs, so lexical order is chronological.
	sort.Strings(runs)
	for _, id := range runs {
		fmt.Println(id)
	}
	return nil
}

func truncateCell(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().String("stage", "", "only records from this stage")
	auditCmd.Flags().String("link", "", "only records for this message link")
	auditCmd.Flags().Bool("discarded", false, "only records of items that fell out")
}
