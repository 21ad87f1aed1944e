// Package audit records what happened to every message at every stage:
// the verdict, whether it came from cache, and why an item was dropped.
// The recorder is handed to the pipeline explicitly; nothing in here is
// global state.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/matsuri/internal/logger"
)

// Record is one per-item, per-stage audit entry. Prompt and Response are
// only set when the verdict came from a fresh AI call.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	RunID         string    `json:"run_id"`
	Stage         string    `json:"stage"`
	Link          string    `json:"link"`
	CacheHit      bool      `json:"cache_hit"`
	Verdict       string    `json:"verdict"`
	Survived      bool      `json:"survived"`
	DiscardReason string    `json:"discard_reason,omitempty"`
	Prompt        string    `json:"prompt,omitempty"`
	Response      string    `json:"response,omitempty"`
}

type Filter struct {
	Stage     string
	Link      string
	CacheHit  *bool
	Survived  *bool
	StartTime time.Time
	EndTime   time.Time
}

type Recorder interface {
	Record(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter *Filter) ([]*Record, error)
}

// FileRecorder appends JSONL records to a per-run debug file. A disabled
// recorder swallows records so the pipeline never branches on debug mode.
type FileRecorder struct {
	mu      sync.RWMutex
	logPath string
	enabled bool
}

func NewFileRecorder(logPath string, enabled bool) *FileRecorder {
	return &FileRecorder{
		logPath: logPath,
		enabled: enabled,
	}
}

func (r *FileRecorder) Record(ctx context.Context, rec *Record) error {
	if !r.enabled {
		return nil
	}
	if rec == nil {
		return fmt.Errorf("audit record cannot be nil")
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.RunID == "" {
		rec.RunID = logger.GetRunID(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("Failed to marshal audit record", "error", err)
		return err
	}

	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open audit file", "error", err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write audit record", "error", err)
		return err
	}

	return nil
}

func (r *FileRecorder) Query(ctx context.Context, filter *Filter) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := os.Open(r.logPath)
	if os.IsNotExist(err) {
		return []*Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []*Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Failed to parse audit record", "line", string(line), "error", err)
			continue
		}

		records = append(records, &rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if filter == nil {
		return records, nil
	}

	var filtered []*Record
	for _, rec := range records {
		if matchesFilter(rec, filter) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func matchesFilter(rec *Record, filter *Filter) bool {
	if filter.Stage != "" && rec.Stage != filter.Stage {
		return false
	}
	if filter.Link != "" && rec.Link != filter.Link {
		return false
	}
	if filter.CacheHit != nil && rec.CacheHit != *filter.CacheHit {
		return false
	}
	if filter.Survived != nil && rec.Survived != *filter.Survived {
		return false
	}
	if !filter.StartTime.IsZero() && rec.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && rec.Timestamp.After(filter.EndTime) {
		return false
	}
	return true
}

// MemoryRecorder collects records in memory. Tests and the run summary use
// it to count cache hits and discards without touching the filesystem.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []*Record
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("audit record cannot be nil")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.RunID == "" {
		rec.RunID = logger.GetRunID(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rec
	r.records = append(r.records, &stored)
	return nil
}

func (r *MemoryRecorder) Query(ctx context.Context, filter *Filter) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Record
	for _, rec := range r.records {
		if filter == nil || matchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Tee duplicates records to several recorders, so a run can keep an
// in-memory summary while also writing the debug file.
type Tee struct {
	recorders []Recorder
}

func NewTee(recorders ...Recorder) *Tee {
	return &Tee{recorders: recorders}
}

func (t *Tee) Record(ctx context.Context, rec *Record) error {
	for _, r := range t.recorders {
		if err := r.Record(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tee) Query(ctx context.Context, filter *Filter) ([]*Record, error) {
	if len(t.recorders) == 0 {
		return nil, nil
	}
	return t.recorders[0].Query(ctx, filter)
}
