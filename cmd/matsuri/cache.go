package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/matsuri/internal/cache"
	"github.com/harunnryd/matsuri/internal/paths"
	"github.com/harunnryd/matsuri/internal/render"

	"github.com/spf13/cobra"
)

// stageNames is the pipeline order, matching cache.Stores.Files.
var stageNames = []string{"detection", "event_type", "schedule", "interests", "description"}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the verdict caches",
	Long:  `Inspect and clear the per-stage verdict caches. Clearing a cache only means the next run asks the model again; the digest semantics do not change.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts per stage cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		stores, err := cache.NewStores(paths.CacheDir(paths.DataDir(cfg.Data.Dir)))
		if err != nil {
			return err
		}

		files := make(map[string]string, len(stageNames))
		for i, path := range stores.Files() {
			files[stageNames[i]] = path
		}

		fmt.Println(render.NewRenderer().RenderCacheStats(stores.Stats(), files))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached verdicts",
	Long:  `Deletes the stage caches, all of them or a single one via --stage. Refuses to run while another process holds the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		stage, _ := cmd.Flags().GetString("stage")
		withSuppress, _ := cmd.Flags().GetBool("suppress")

		dataDir := paths.DataDir(cfg.Data.Dir)
		lock, held, err := paths.TryRunLock(dataDir)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("another run is in progress, try again when it finishes")
		}
		defer lock.Unlock()

		stores, err := cache.NewStores(paths.CacheDir(dataDir))
		if err != nil {
			return err
		}

		cleared := 0
		for i, path := range stores.Files() {
			if stage != "" && stage != stageNames[i] {
				continue
			}
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
			cleared++
			fmt.Printf("Cleared %s cache (%s)\n", stageNames[i], path)
		}
		if stage != "" && cleared == 0 {
			fmt.Printf("Nothing to clear for stage %q\n", stage)
		}

		if withSuppress {
			suppressDir := paths.SuppressDir(dataDir)
			if err := os.RemoveAll(suppressDir); err != nil {
				return fmt.Errorf("failed to remove %s: %w", suppressDir, err)
			}
			fmt.Printf("Cleared repost suppressor store (%s)\n", suppressDir)
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)

	cacheClearCmd.Flags().String("stage", "", "clear a single stage cache (detection, event_type, schedule, interests, description)")
	cacheClearCmd.Flags().Bool("suppress", false, "also clear the repost suppressor embeddings")
}
