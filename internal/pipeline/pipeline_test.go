package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/cache"
	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
)

// scriptedCaller plays back canned responses in call order and fails the
// test run if called more often than scripted.
type scriptedCaller struct {
	responses     []string
	calls         int
	creativeCalls int
	prompts       []string
	err           error
	errOnCall     int
}

func (s *scriptedCaller) Call(ctx context.Context, prompt string) (string, error) {
	return s.next(prompt, false)
}

func (s *scriptedCaller) CallCreative(ctx context.Context, prompt string) (string, error) {
	return s.next(prompt, true)
}

func (s *scriptedCaller) next(prompt string, creative bool) (string, error) {
	s.calls++
	if creative {
		s.creativeCalls++
	}
	s.prompts = append(s.prompts, prompt)
	if s.errOnCall > 0 && s.calls == s.errOnCall {
		return "", s.err
	}
	if s.calls > len(s.responses) {
		return "", fmt.Errorf("unscripted AI call %d", s.calls)
	}
	return s.responses[s.calls-1], nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Interests:     []string{"concerts", "board games"},
		Windows:       []string{"5 19:00"},
		LookaheadDays: 30,
		LookbackDays:  7,
		MinConfidence: 0.75,
		BatchSizes: config.BatchSizesConfig{
			Detection: 10, EventType: 10, Schedule: 10, Interests: 5, Description: 5,
		},
		Prompts: config.PromptsConfig{
			Detection:   "Today is {today}.\n{messages}",
			EventType:   "{messages}",
			Schedule:    "Today is {today}.\n{messages}",
			Interests:   "{interests}\n{messages}",
			Description: "{messages}",
		},
	}
}

// testNow pins the clock to a Saturday well before the scripted event dates.
var testNow = time.Date(2099, time.November, 28, 12, 0, 0, 0, time.Local)

func newTestPipelineAt(t *testing.T, dir string, cfg config.PipelineConfig, caller *scriptedCaller) (*Pipeline, *cache.Stores, *audit.MemoryRecorder) {
	t.Helper()

	stores, err := cache.NewStores(dir)
	require.NoError(t, err)
	recorder := audit.NewMemoryRecorder()

	p, err := New(cfg, caller, stores, recorder)
	require.NoError(t, err)
	p.now = func() time.Time { return testNow }
	return p, stores, recorder
}

func newTestPipeline(t *testing.T, cfg config.PipelineConfig, caller *scriptedCaller) (*Pipeline, *cache.Stores, *audit.MemoryRecorder) {
	t.Helper()
	return newTestPipelineAt(t, t.TempDir(), cfg, caller)
}

func makeMessages(n int) []digest.SourceMessage {
	messages := make([]digest.SourceMessage, 0, n)
	for i := 1; i <= n; i++ {
		messages = append(messages, digest.SourceMessage{
			Text:      fmt.Sprintf("message %d", i),
			Link:      fmt.Sprintf("https://chat.example/m/%d", i),
			Source:    "telegram",
			Timestamp: time.Date(2099, time.November, 27, 9, 0, 0, 0, time.Local),
		})
	}
	return messages
}

func makeCandidates(n int) []*Candidate {
	items := make([]*Candidate, 0, n)
	for _, m := range makeMessages(n) {
		items = append(items, &Candidate{Message: m})
	}
	return items
}

func TestRunEndToEndScenario(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.BatchSizes = config.BatchSizesConfig{
		Detection: 1, EventType: 1, Schedule: 1, Interests: 1, Description: 1,
	}
	caller := &scriptedCaller{responses: []string{
		"1",
		"1:0",
		"1: 05 Dec 2099 19:30",
		"1:0.9",
		"1:\nTITLE: Jazz Evening\nSUMMARY: Live jazz downtown.",
	}}
	p, stores, recorder := newTestPipeline(t, cfg, caller)

	d, err := p.Run(context.Background(), makeMessages(1))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	event := d.Events[0]
	assert.Equal(t, digest.EventOffline, event.Type)
	assert.Equal(t, time.Date(2099, time.December, 5, 19, 30, 0, 0, time.Local), event.StartsAt)
	assert.Equal(t, []string{"concerts"}, event.MetInterests)
	assert.Equal(t, "Jazz Evening", event.Title)
	assert.Equal(t, "Live jazz downtown.", event.ShortSummary)
	assert.Equal(t, "https://chat.example/m/1", event.Link)

	assert.Equal(t, 5, caller.calls)
	assert.Equal(t, 1, caller.creativeCalls, "only the description stage is creative")

	records, err := recorder.Query(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for _, rec := range records {
		assert.False(t, rec.CacheHit)
		assert.True(t, rec.Survived)
		assert.NotEmpty(t, rec.Prompt)
	}

	for name, count := range stores.Stats() {
		assert.Equal(t, 1, count, "store %s", name)
	}
}

func TestRunTwiceIsIdempotentAndCallFree(t *testing.T) {
	cfg := testPipelineConfig()
	dir := t.TempDir()

	caller := &scriptedCaller{responses: []string{
		"1",
		"1: 0",
		"1: 05 Dec 2099 19:30",
		"1:\n1:0.9",
		"1:\nTITLE: Jazz Evening\nSUMMARY: Live jazz downtown.",
	}}
	p1, _, _ := newTestPipelineAt(t, dir, cfg, caller)

	messages := makeMessages(2)
	first, err := p1.Run(context.Background(), messages)
	require.NoError(t, err)
	require.Len(t, first.Events, 1)
	assert.Equal(t, 5, caller.calls)

	// Fresh stores over the same files, a caller with nothing scripted.
	silent := &scriptedCaller{}
	p2, _, recorder := newTestPipelineAt(t, dir, cfg, silent)

	second, err := p2.Run(context.Background(), messages)
	require.NoError(t, err)

	assert.Zero(t, silent.calls, "second run must be answered from cache alone")
	assert.Equal(t, first.Events, second.Events)

	records, err := recorder.Query(context.Background(), nil)
	require.NoError(t, err)
	for _, rec := range records {
		assert.True(t, rec.CacheHit, "stage %s for %s", rec.Stage, rec.Link)
	}
}

func TestDetectionDefaultFillsMissingIndices(t *testing.T) {
	cfg := testPipelineConfig()
	caller := &scriptedCaller{responses: []string{"1\n2\n4\n5"}}
	p, stores, _ := newTestPipeline(t, cfg, caller)

	out, err := runStage(context.Background(), p, p.detectionSpec(), makeCandidates(5))
	require.NoError(t, err)

	require.Len(t, out, 4)
	for _, c := range out {
		assert.NotEqual(t, "https://chat.example/m/3", c.Message.Link)
	}

	verdict, ok := stores.Detection.Get("https://chat.example/m/3")
	require.True(t, ok, "the missing index still gets a cache entry")
	assert.False(t, verdict)
	assert.Equal(t, 5, stores.Detection.Len())
}

func TestStageWritesExactlyOneVerdictPerItem(t *testing.T) {
	cfg := testPipelineConfig()
	caller := &scriptedCaller{responses: []string{"1\n1\n9\nwat\nnone"}}
	p, stores, _ := newTestPipeline(t, cfg, caller)

	out, err := runStage(context.Background(), p, p.detectionSpec(), makeCandidates(3))
	require.NoError(t, err)

	assert.Equal(t, 3, stores.Detection.Len())
	require.Len(t, out, 1)
	assert.Equal(t, "https://chat.example/m/1", out[0].Message.Link)
}

func TestConfidenceBoundary(t *testing.T) {
	cfg := testPipelineConfig()
	caller := &scriptedCaller{responses: []string{"1:\n2:0.75\n2:\n2:0.74"}}
	p, _, recorder := newTestPipeline(t, cfg, caller)

	items := makeCandidates(2)
	for _, c := range items {
		c.Type = digest.EventOffline
		c.StartsAt = time.Date(2099, time.December, 5, 19, 30, 0, 0, time.Local)
	}

	out, err := runStage(context.Background(), p, p.interestsSpec(), items)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "https://chat.example/m/1", out[0].Message.Link)
	assert.Equal(t, []string{"board games"}, out[0].Interests)
	assert.Equal(t, []cache.ScoredInterest{{Index: 1, Confidence: 0.75}}, out[0].Matches)

	dropped := false
	records, err := recorder.Query(context.Background(), &audit.Filter{Link: "https://chat.example/m/2", Survived: &dropped})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "all matches below threshold", records[0].DiscardReason)
}

func TestInterestOrderingByConfidence(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Interests = []string{"concerts", "board games", "hiking"}
	caller := &scriptedCaller{responses: []string{"1:\n3:0.8\n1:0.95\n2:0.8"}}
	p, _, _ := newTestPipeline(t, cfg, caller)

	items := makeCandidates(1)
	out, err := runStage(context.Background(), p, p.interestsSpec(), items)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, []string{"concerts", "board games", "hiking"}, out[0].Interests,
		"confidence descending, ties by interest position")
}

func TestScheduleRevalidatesCachedVerdicts(t *testing.T) {
	cfg := testPipelineConfig()
	caller := &scriptedCaller{}
	p, stores, recorder := newTestPipeline(t, cfg, caller)

	items := makeCandidates(1)
	key := cache.ScopedKey(items[0].Message.Link, cache.LabelSlots, cfg.Windows)
	require.NoError(t, stores.Schedule.Set(key, "01 Jan 2024 10:00", true))

	out, err := runStage(context.Background(), p, p.scheduleSpec(), items)
	require.NoError(t, err)

	assert.Empty(t, out)
	assert.Zero(t, caller.calls, "a cached verdict must not trigger a call")

	records, err := recorder.Query(context.Background(), &audit.Filter{Stage: StageSchedule})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].CacheHit)
	assert.Equal(t, "already started", records[0].DiscardReason)
}

func TestScheduleDiscardReasons(t *testing.T) {
	cases := []struct {
		name     string
		response string
		reason   string
	}{
		{"unknown", "1: unknown", "no start time extracted"},
		{"unparsable", "1: sometime next week", "start time unparsable"},
		{"already started", "1: 01 Jan 2024 10:00", "already started"},
		{"beyond lookahead", "1: 27 Feb 2100 19:30", "beyond lookahead window"},
		{"outside windows", "1: 09 Dec 2099 19:30", "outside availability windows"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			caller := &scriptedCaller{responses: []string{tc.response}}
			p, _, recorder := newTestPipeline(t, testPipelineConfig(), caller)

			out, err := runStage(context.Background(), p, p.scheduleSpec(), makeCandidates(1))
			require.NoError(t, err)
			assert.Empty(t, out)

			records, err := recorder.Query(context.Background(), &audit.Filter{Stage: StageSchedule})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tc.reason, records[0].DiscardReason)
		})
	}
}

func TestScheduleHourOnlyNormalization(t *testing.T) {
	got, err := parseScheduleTime("05 Dec 2099 19")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2099, time.December, 5, 19, 0, 0, 0, time.Local), got)

	_, err = parseScheduleTime("soonish")
	assert.Error(t, err)
}

func TestSkipOnlineAppliesToCachedVerdicts(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.SkipOnline = true
	caller := &scriptedCaller{}
	p, stores, recorder := newTestPipeline(t, cfg, caller)

	items := makeCandidates(1)
	require.NoError(t, stores.EventType.Set(items[0].Message.Link, digest.EventOnline, true))

	out, err := runStage(context.Background(), p, p.eventTypeSpec(), items)
	require.NoError(t, err)

	assert.Empty(t, out)
	assert.Zero(t, caller.calls)

	records, err := recorder.Query(context.Background(), &audit.Filter{Stage: StageEventType})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "online event skipped", records[0].DiscardReason)
}

func TestStageAbortsOnProviderErrorKeepingFlushedChunks(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.BatchSizes.Detection = 2
	caller := &scriptedCaller{
		responses: []string{"1\n2"},
		err:       errors.New("provider exploded"),
		errOnCall: 2,
	}
	p, stores, _ := newTestPipeline(t, cfg, caller)

	_, err := runStage(context.Background(), p, p.detectionSpec(), makeCandidates(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection stage")

	// The first chunk was flushed before the failure; a reopened store
	// sees it.
	reopened := cache.NewStore[bool](stores.Detection.Path())
	assert.Equal(t, 2, reopened.Len())
}

func TestDescriptionFallsBackToPlaceholders(t *testing.T) {
	cfg := testPipelineConfig()
	caller := &scriptedCaller{responses: []string{"no blocks in this reply"}}
	p, _, _ := newTestPipeline(t, cfg, caller)

	items := makeCandidates(2)
	out, err := runStage(context.Background(), p, p.descriptionSpec(), items)
	require.NoError(t, err)

	require.Len(t, out, 2)
	for _, c := range out {
		assert.Equal(t, defaultTitle, c.Title)
		assert.Equal(t, defaultSummary, c.ShortSummary)
	}
	assert.Equal(t, 1, caller.creativeCalls)
}

func TestRenderPromptSubstitutesPlaceholders(t *testing.T) {
	cfg := testPipelineConfig()
	p, _, _ := newTestPipeline(t, cfg, &scriptedCaller{})

	chunk := makeCandidates(2)
	prompt := p.renderPrompt("Today is {today}.\nInterests:\n{interests}\n\n{messages}", chunk, func(c *Candidate) string {
		return flattenText(c.Message.Text)
	})

	assert.Contains(t, prompt, "Today is Saturday, 28 Nov 2099.")
	assert.Contains(t, prompt, "1. concerts\n2. board games")
	assert.Contains(t, prompt, "1. message 1\n2. message 2")
	assert.NotContains(t, prompt, "{")
}

func TestFlattenText(t *testing.T) {
	assert.Equal(t, "a b c", flattenText(" a\n b\tc "))
}

func TestRunWithNoMessages(t *testing.T) {
	caller := &scriptedCaller{}
	p, _, _ := newTestPipeline(t, testPipelineConfig(), caller)

	d, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, d.Events)
	assert.Zero(t, caller.calls)
}
