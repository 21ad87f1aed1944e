package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/matsuri/internal/logger"
)

func TestFileRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec := NewFileRecorder(path, true)
	ctx := logger.WithRunID(context.Background(), "run-1")

	require.NoError(t, rec.Record(ctx, &Record{
		Stage:    "detection",
		Link:     "https://chat.example/1",
		CacheHit: false,
		Verdict:  "event",
		Survived: true,
	}))
	require.NoError(t, rec.Record(ctx, &Record{
		Stage:         "detection",
		Link:          "https://chat.example/2",
		CacheHit:      true,
		Verdict:       "not event",
		Survived:      false,
		DiscardReason: "not announcing an event",
	}))

	records, err := rec.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-1", records[0].RunID)
	assert.False(t, records[0].Timestamp.IsZero())
	assert.Equal(t, "https://chat.example/2", records[1].Link)
	assert.Equal(t, "not announcing an event", records[1].DiscardReason)
}

func TestFileRecorderDisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec := NewFileRecorder(path, false)

	require.NoError(t, rec.Record(context.Background(), &Record{Stage: "detection", Link: "x"}))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileRecorderQueryFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec := NewFileRecorder(path, true)
	ctx := context.Background()

	hit := true
	miss := false
	dropped := false

	require.NoError(t, rec.Record(ctx, &Record{Stage: "detection", Link: "a", CacheHit: true, Survived: true}))
	require.NoError(t, rec.Record(ctx, &Record{Stage: "schedule", Link: "a", CacheHit: false, Survived: false}))
	require.NoError(t, rec.Record(ctx, &Record{Stage: "schedule", Link: "b", CacheHit: true, Survived: true}))

	records, err := rec.Query(ctx, &Filter{Stage: "schedule"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = rec.Query(ctx, &Filter{Link: "a"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = rec.Query(ctx, &Filter{Stage: "schedule", CacheHit: &miss})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Link)

	records, err = rec.Query(ctx, &Filter{CacheHit: &hit, Survived: &dropped})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileRecorderQueryTimeRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec := NewFileRecorder(path, true)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Record(ctx, &Record{Stage: "detection", Link: "old", Timestamp: base}))
	require.NoError(t, rec.Record(ctx, &Record{Stage: "detection", Link: "new", Timestamp: base.Add(2 * time.Hour)}))

	records, err := rec.Query(ctx, &Filter{StartTime: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Link)

	records, err = rec.Query(ctx, &Filter{EndTime: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].Link)
}

func TestFileRecorderQuerySkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	rec := NewFileRecorder(path, true)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, &Record{Stage: "detection", Link: "a"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, rec.Record(ctx, &Record{Stage: "detection", Link: "b"}))

	records, err := rec.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFileRecorderQueryMissingFile(t *testing.T) {
	rec := NewFileRecorder(filepath.Join(t.TempDir(), "never-written.jsonl"), true)

	records, err := rec.Query(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryRecorderCopiesRecords(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	entry := &Record{Stage: "interests", Link: "a", Verdict: "1:0.9"}
	require.NoError(t, rec.Record(ctx, entry))
	entry.Verdict = "mutated"

	records, err := rec.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1:0.9", records[0].Verdict)
}

func TestTeeFansOut(t *testing.T) {
	mem := NewMemoryRecorder()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	file := NewFileRecorder(path, true)
	tee := NewTee(mem, file)
	ctx := context.Background()

	require.NoError(t, tee.Record(ctx, &Record{Stage: "description", Link: "a", Survived: true}))

	fromTee, err := tee.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, fromTee, 1)

	fromFile, err := file.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, fromFile, 1)
}
