// Package source pulls candidate messages from chat platforms and feeds.
// Sources fetch in batch: one run connects, pages through everything posted
// since the lookback horizon, and disconnects. The multiplexer merges the
// per-source results into the deduplicated, timestamp-ordered list the
// pipeline expects.
package source

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/harunnryd/matsuri/internal/digest"
)

// Source is one place messages come from.
type Source interface {
	Name() string
	Connect(ctx context.Context) error
	FetchMessages(ctx context.Context, since time.Time) ([]digest.SourceMessage, error)
	Disconnect(ctx context.Context) error
	Health(ctx context.Context) error
}

// Multiplexer fans fetches out over every configured source.
type Multiplexer struct {
	sources []Source
}

func NewMultiplexer(sources ...Source) *Multiplexer {
	return &Multiplexer{sources: sources}
}

func (m *Multiplexer) Sources() []Source {
	return m.sources
}

// Connect connects every source, disconnecting the already-connected ones
// when a later one fails.
func (m *Multiplexer) Connect(ctx context.Context) error {
	var connected []Source
	for _, s := range m.sources {
		if err := s.Connect(ctx); err != nil {
			for _, c := range connected {
				if derr := c.Disconnect(ctx); derr != nil {
					slog.Warn("Source disconnect failed", "source", c.Name(), "error", derr)
				}
			}
			return err
		}
		connected = append(connected, s)
	}
	return nil
}

// FetchMessages merges every source's batch, deduplicates by link and
// orders by timestamp with link ties broken lexically.
func (m *Multiplexer) FetchMessages(ctx context.Context, since time.Time) ([]digest.SourceMessage, error) {
	seen := make(map[string]bool)
	var merged []digest.SourceMessage

	for _, s := range m.sources {
		messages, err := s.FetchMessages(ctx, since)
		if err != nil {
			return nil, err
		}
		slog.Info("Source fetched", "source", s.Name(), "messages", len(messages))

		for _, msg := range messages {
			if msg.Link == "" || seen[msg.Link] {
				continue
			}
			seen[msg.Link] = true
			merged = append(merged, msg)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Link < merged[j].Link
		}
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged, nil
}

// Disconnect disconnects every source, aggregating failures.
func (m *Multiplexer) Disconnect(ctx context.Context) error {
	var errs []error
	for _, s := range m.sources {
		if err := s.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
