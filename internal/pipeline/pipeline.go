// Package pipeline drives candidate messages through the five
// classification stages: detection, event type, schedule, interests and
// description. Every stage consults its verdict store before spending an AI
// call, batches the misses, parses the response against a per-stage grammar
// and persists every verdict before the next stage starts. Items leave the
// funnel either as fully described digest events or with a recorded reason.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/matsuri/internal/aiclient"
	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/batch"
	"github.com/harunnryd/matsuri/internal/cache"
	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
	apperrors "github.com/harunnryd/matsuri/internal/errors"
	"github.com/harunnryd/matsuri/internal/logger"
)

// Candidate is one message on its way through the funnel, accumulating
// fields as it survives stages.
type Candidate struct {
	Message      digest.SourceMessage
	Type         digest.EventType
	StartsAt     time.Time
	Matches      []cache.ScoredInterest
	Interests    []string
	Title        string
	ShortSummary string
}

// Pipeline owns the stage sequence and its collaborators. The clock is a
// field so tests can pin "now".
type Pipeline struct {
	cfg      config.PipelineConfig
	windows  []config.Window
	ai       aiclient.Caller
	stores   *cache.Stores
	recorder audit.Recorder
	now      func() time.Time
}

func New(cfg config.PipelineConfig, ai aiclient.Caller, stores *cache.Stores, recorder audit.Recorder) (*Pipeline, error) {
	windows, err := config.ParseWindows(cfg.Windows)
	if err != nil {
		return nil, fmt.Errorf("parse availability windows: %w", err)
	}
	if recorder == nil {
		recorder = audit.NewFileRecorder("", false)
	}

	return &Pipeline{
		cfg:      cfg,
		windows:  windows,
		ai:       ai,
		stores:   stores,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

// Run takes shortlisted candidate messages through all five stages and
// assembles the digest from the survivors. An AI failure aborts the run;
// verdicts flushed for earlier chunks stay valid for the next run.
func (p *Pipeline) Run(ctx context.Context, messages []digest.SourceMessage) (*digest.Digest, error) {
	candidates := make([]*Candidate, 0, len(messages))
	for _, m := range messages {
		candidates = append(candidates, &Candidate{Message: m})
	}
	slog.Info("Pipeline starting", "candidates", len(candidates), "run_id", logger.GetRunID(ctx))

	detected, err := runStage(ctx, p, p.detectionSpec(), candidates)
	if err != nil {
		return nil, err
	}
	typed, err := runStage(ctx, p, p.eventTypeSpec(), detected)
	if err != nil {
		return nil, err
	}
	scheduled, err := runStage(ctx, p, p.scheduleSpec(), typed)
	if err != nil {
		return nil, err
	}
	interested, err := runStage(ctx, p, p.interestsSpec(), scheduled)
	if err != nil {
		return nil, err
	}
	described, err := runStage(ctx, p, p.descriptionSpec(), interested)
	if err != nil {
		return nil, err
	}

	d := &digest.Digest{GeneratedAt: p.now()}
	for _, c := range described {
		d.Events = append(d.Events, digest.Event{
			Title:        c.Title,
			ShortSummary: c.ShortSummary,
			StartsAt:     c.StartsAt,
			MetInterests: c.Interests,
			Link:         c.Message.Link,
			Type:         c.Type,
		})
	}
	d.Sort()

	slog.Info("Pipeline finished", "candidates", len(candidates), "events", len(d.Events))
	return d, nil
}

// stageSpec is the per-stage wiring the common engine runs with: which
// store and prompt to use, how to key an item, how to parse the response
// and how a verdict enriches or discards a candidate.
type stageSpec[V any] struct {
	name      string
	store     *cache.Store[V]
	batchSize int
	template  string
	creative  bool
	// quietFill marks grammars where an absent index is the negative
	// verdict itself rather than a hole in the response.
	quietFill bool
	fallback  V
	key       func(c *Candidate) string
	item      func(c *Candidate) string
	parse     func(response string, n int) (map[int]V, []Line)
	render    func(v V) string
	apply     func(c *Candidate, v V) (keep bool, discardReason string)
}

// runStage executes the common per-stage algorithm: split by cache, chunk
// the misses, one AI call per chunk, parse and default-fill, persist every
// verdict with one flush per chunk, then apply verdicts in input order.
// Cached verdicts go through the same apply step, so policy that depends on
// the current clock or preferences is re-judged every run.
func runStage[V any](ctx context.Context, p *Pipeline, spec stageSpec[V], items []*Candidate) ([]*Candidate, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ctx = logger.WithStage(ctx, spec.name)

	type outcome struct {
		verdict  V
		cacheHit bool
		prompt   string
		response string
	}
	outcomes := make([]outcome, len(items))

	var uncached []int
	for i, c := range items {
		if v, ok := spec.store.Get(spec.key(c)); ok {
			outcomes[i] = outcome{verdict: v, cacheHit: true}
		} else {
			uncached = append(uncached, i)
		}
	}
	hits := len(items) - len(uncached)
	slog.Debug("Stage cache split", "stage", spec.name, "items", len(items), "hits", hits, "misses", len(uncached))

	for _, chunk := range batch.Chunk(uncached, spec.batchSize) {
		chunkItems := make([]*Candidate, len(chunk))
		for j, pos := range chunk {
			chunkItems[j] = items[pos]
		}

		prompt := p.renderPrompt(spec.template, chunkItems, spec.item)
		var response string
		var err error
		if spec.creative {
			response, err = p.ai.CallCreative(ctx, prompt)
		} else {
			response, err = p.ai.Call(ctx, prompt)
		}
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", spec.name, err)
		}

		verdicts, lines := spec.parse(response, len(chunkItems))
		for _, line := range lines {
			if line.Kind != LineOk {
				slog.Warn("Rejecting response line", "stage", spec.name, "line", line.Raw, "reason", line.Kind.String())
			}
		}

		for j, pos := range chunk {
			v, ok := verdicts[j+1]
			if !ok {
				v = spec.fallback
				if spec.quietFill {
					slog.Debug("No verdict line, using default", "stage", spec.name, "link", items[pos].Message.Link)
				} else {
					slog.Warn("No verdict line, using default", "stage", spec.name, "link", items[pos].Message.Link)
				}
			}
			if err := spec.store.Set(spec.key(items[pos]), v, false); err != nil {
				return nil, apperrors.CacheSave(err, spec.store.Path())
			}
			outcomes[pos] = outcome{verdict: v, prompt: prompt, response: response}
		}

		if err := spec.store.Save(); err != nil {
			return nil, apperrors.CacheSave(err, spec.store.Path())
		}
	}

	var survivors []*Candidate
	for i, c := range items {
		out := outcomes[i]
		keep, reason := spec.apply(c, out.verdict)

		rec := &audit.Record{
			Stage:         spec.name,
			Link:          c.Message.Link,
			CacheHit:      out.cacheHit,
			Verdict:       spec.render(out.verdict),
			Survived:      keep,
			DiscardReason: reason,
			Prompt:        out.prompt,
			Response:      out.response,
		}
		if err := p.recorder.Record(ctx, rec); err != nil {
			slog.Warn("Audit record failed", "stage", spec.name, "error", err)
		}

		if keep {
			survivors = append(survivors, c)
		} else {
			slog.Debug("Discarding item", "stage", spec.name, "link", c.Message.Link, "reason", reason)
		}
	}

	slog.Info("Stage complete", "stage", spec.name, "in", len(items), "out", len(survivors), "cache_hits", hits)
	return survivors, nil
}

func (p *Pipeline) renderPrompt(template string, chunk []*Candidate, item func(*Candidate) string) string {
	var list strings.Builder
	for i, c := range chunk {
		fmt.Fprintf(&list, "%d. %s\n", i+1, item(c))
	}

	replacer := strings.NewReplacer(
		"{messages}", strings.TrimRight(list.String(), "\n"),
		"{interests}", numberedList(p.cfg.Interests),
		"{today}", p.now().Format("Monday, 02 Jan 2006"),
	)
	return replacer.Replace(template)
}

func numberedList(values []string) string {
	var b strings.Builder
	for i, v := range values {
		fmt.Fprintf(&b, "%d. %s\n", i+1, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

// flattenText collapses a message onto one line so the numbered prompt list
// stays unambiguous.
func flattenText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
