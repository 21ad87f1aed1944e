package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/harunnryd/matsuri/internal/archive"
	"github.com/harunnryd/matsuri/internal/paths"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage message sources",
}

var sourcesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect to each enabled source and report health",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		srcs := buildSources(cfg.Sources)
		if len(srcs) == 0 {
			fmt.Println("No sources enabled.")
			fmt.Println("Enable one under sources: in the config, then re-run this check.")
			return nil
		}

		// Last fetch times live in the archive; a check must not create one.
		var arch *archive.Archive
		archivePath := paths.ArchivePath(paths.DataDir(cfg.Data.Dir))
		if _, err := os.Stat(archivePath); err == nil {
			a, err := archive.Open(archivePath)
			if err == nil {
				arch = a
				defer arch.Close()
			}
		}

		ctx := cmd.Context()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tSTATUS\tLAST FETCH")

		failures := 0
		for _, s := range srcs {
			status := "ok"
			if err := s.Connect(ctx); err != nil {
				status = err.Error()
				failures++
			} else if err := s.Health(ctx); err != nil {
				status = err.Error()
				failures++
			}
			if err := s.Disconnect(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "warning: disconnect %s: %v\n", s.Name(), err)
			}

			lastFetch := "never"
			if arch != nil {
				if t, ok := arch.LastFetch(s.Name()); ok {
					lastFetch = t.Format(time.RFC3339)
				}
			}

			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name(), status, lastFetch)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		if failures > 0 {
			return fmt.Errorf("%d source(s) unhealthy", failures)
		}
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesCheckCmd)
	rootCmd.AddCommand(sourcesCmd)
}
