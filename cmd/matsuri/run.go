package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/harunnryd/matsuri/internal/aiclient"
	"github.com/harunnryd/matsuri/internal/archive"
	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/cache"
	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
	"github.com/harunnryd/matsuri/internal/logger"
	"github.com/harunnryd/matsuri/internal/model"
	"github.com/harunnryd/matsuri/internal/paths"
	"github.com/harunnryd/matsuri/internal/pipeline"
	"github.com/harunnryd/matsuri/internal/prefilter"
	"github.com/harunnryd/matsuri/internal/render"
	"github.com/harunnryd/matsuri/internal/source"
	"github.com/harunnryd/matsuri/internal/suppress"

	"github.com/google/shlex"
	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch new messages and produce a digest",
	Long:  `Fetches messages from the enabled sources, classifies everything in the lookback window through the staged pipeline and prints the digest of upcoming events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		handler := NewSignalHandler(context.Background())
		handler.Start()
		defer handler.Stop()

		return executeRun(handler.Context(), cfg, opts)
	},
}

type runOptions struct {
	// cues overrides pipeline.cues when non-nil.
	cues      []string
	skipFetch bool
	asJSON    bool
	explain   bool
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var opts runOptions

	raw, err := cmd.Flags().GetString("cues")
	if err != nil {
		return opts, err
	}
	if raw != "" {
		cues, err := shlex.Split(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid --cues: %w", err)
		}
		opts.cues = cues
	}

	opts.skipFetch, _ = cmd.Flags().GetBool("skip-fetch")
	opts.asJSON, _ = cmd.Flags().GetBool("json")
	opts.explain, _ = cmd.Flags().GetBool("explain")
	return opts, nil
}

func executeRun(parent context.Context, cfg *config.Config, opts runOptions) error {
	runID := ulid.Make().String()
	ctx := logger.WithRunID(parent, runID)

	dataDir := paths.DataDir(cfg.Data.Dir)
	lock, err := paths.AcquireRunLock(dataDir, paths.DefaultRunLockConfig())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	slog.Info("Run starting", "run_id", runID, "data_dir", dataDir)

	stores, err := cache.NewStores(paths.CacheDir(dataDir))
	if err != nil {
		return err
	}

	arch, err := archive.Open(paths.ArchivePath(dataDir))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := arch.Close(); cerr != nil {
			slog.Error("Failed to close archive", "error", cerr)
		}
	}()

	memory := audit.NewMemoryRecorder()
	var recorder audit.Recorder = memory
	if cfg.Debug.Enabled {
		debugDir := paths.DebugDir(dataDir)
		if err := paths.EnsureDir(debugDir); err != nil {
			return err
		}
		logPath := filepath.Join(debugDir, runID+".jsonl")
		recorder = audit.NewTee(memory, audit.NewFileRecorder(logPath, true))
		slog.Info("Audit log enabled", "path", logPath)
	}

	router, err := model.NewModelRouter(cfg.Models)
	if err != nil {
		return err
	}

	ai, err := newAIClient(router, cfg)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(cfg.Pipeline, ai, stores, recorder)
	if err != nil {
		return err
	}

	horizon := time.Now().AddDate(0, 0, -cfg.Pipeline.LookbackDays)

	if !opts.skipFetch {
		if err := fetchIntoArchive(ctx, cfg.Sources, arch, horizon); err != nil {
			return err
		}
	}

	messages, err := arch.Messages(horizon)
	if err != nil {
		return err
	}

	cues := cfg.Pipeline.Cues
	if opts.cues != nil {
		cues = opts.cues
	}
	shortlist := prefilter.Shortlist(messages, cues)
	slog.Info("Messages shortlisted", "archived", len(messages), "shortlisted", len(shortlist), "run_id", runID)

	if cfg.Suppress.Enabled {
		sup, err := suppress.New(paths.SuppressDir(dataDir), router, cfg.Models.Embedding, cfg.Suppress, recorder)
		if err != nil {
			return err
		}
		shortlist, err = sup.Filter(ctx, shortlist)
		if err != nil {
			return err
		}
	}

	result, err := pipe.Run(ctx, shortlist)
	if err != nil {
		return err
	}

	if err := stores.SaveAll(); err != nil {
		return err
	}
	if err := writeDigest(paths.DigestPath(dataDir), result); err != nil {
		return err
	}
	slog.Info("Run complete", "events", len(result.Events), "run_id", runID)

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(render.NewRenderer().RenderDigest(result))

	if opts.explain {
		discarded, err := memory.Query(ctx, &audit.Filter{Survived: boolPtr(false)})
		if err != nil {
			return err
		}
		fmt.Println(render.NewRenderer().RenderDiscards(discarded))
	}
	return nil
}

func newAIClient(router model.ModelRouter, cfg *config.Config) (*aiclient.Client, error) {
	pacing, err := config.DurationOrDefault(cfg.AI.PacingDelay, config.DefaultPacingDelay)
	if err != nil {
		return nil, fmt.Errorf("ai.pacing_delay: %w", err)
	}
	retryBase, err := config.DurationOrDefault(cfg.AI.RetryBaseDelay, config.DefaultRetryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("ai.retry_base_delay: %w", err)
	}

	return aiclient.New(router, aiclient.Config{
		Model:               cfg.Models.Default,
		CreativeTemperature: float32(cfg.AI.CreativeTemperature),
		PacingDelay:         pacing,
		RetryMaxAttempts:    cfg.AI.RetryMaxAttempts,
		RetryBaseDelay:      retryBase,
	}), nil
}

// fetchIntoArchive pulls everything the enabled sources have since the
// horizon and lands it in the archive. The archive keeps messages beyond the
// horizon too, so a message fetched once stays classifiable for its whole
// lookback life even if the source stops returning it.
func fetchIntoArchive(ctx context.Context, cfg config.SourcesConfig, arch *archive.Archive, horizon time.Time) error {
	srcs := buildSources(cfg)
	if len(srcs) == 0 {
		slog.Info("No sources enabled, classifying archived messages only")
		return nil
	}

	mux := source.NewMultiplexer(srcs...)
	if err := mux.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if derr := mux.Disconnect(ctx); derr != nil {
			slog.Warn("Source disconnect failed", "error", derr)
		}
	}()

	fetchStart := time.Now()
	messages, err := mux.FetchMessages(ctx, horizon)
	if err != nil {
		return err
	}
	if err := arch.UpsertMessages(messages); err != nil {
		return err
	}
	for _, s := range srcs {
		if err := arch.SetLastFetch(s.Name(), fetchStart); err != nil {
			return err
		}
	}

	slog.Info("Fetch complete", "sources", len(srcs), "messages", len(messages))
	return nil
}

func buildSources(cfg config.SourcesConfig) []source.Source {
	var srcs []source.Source
	if cfg.Telegram.Enabled {
		srcs = append(srcs, source.NewTelegram(cfg.Telegram))
	}
	if cfg.Slack.Enabled {
		srcs = append(srcs, source.NewSlack(cfg.Slack))
	}
	if cfg.RSS.Enabled {
		srcs = append(srcs, source.NewRSS(cfg.RSS))
	}
	return srcs
}

func writeDigest(path string, d *digest.Digest) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func boolPtr(b bool) *bool {
	return &b
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("cues", "", "space separated cue words overriding pipeline.cues, quote multi-word cues")
	runCmd.Flags().Bool("skip-fetch", false, "classify the archived messages without contacting any source")
	runCmd.Flags().Bool("json", false, "print the digest as JSON instead of styled output")
	runCmd.Flags().Bool("explain", false, "list the discarded messages and why each one fell out")
}
