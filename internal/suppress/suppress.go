// Package suppress drops near-duplicate announcements before they reach the
// classification stages. Every kept message is embedded and stored, so a
// repost of an earlier announcement, in this run or a later one, matches its
// predecessor and is filtered out. Documents are keyed by message link, which
// keeps a re-fetch of the same message from matching itself.
package suppress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
	"github.com/harunnryd/matsuri/internal/errors"

	chromem "github.com/philippgille/chromem-go"
)

const (
	stageName      = "suppress"
	collectionName = "messages"
)

// Embedder is the slice of the model router the suppressor needs.
type Embedder interface {
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
}

type Suppressor struct {
	db        *chromem.DB
	embedder  Embedder
	model     string
	threshold float32
	recorder  audit.Recorder
}

// New opens the embedding store under dir. The recorder receives one record
// per message, suppressed or kept.
func New(dir string, embedder Embedder, embeddingModel string, cfg config.SuppressConfig, recorder audit.Recorder) (*Suppressor, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedding store")
	}
	if recorder == nil {
		recorder = audit.NewFileRecorder("", false)
	}
	return &Suppressor{
		db:        db,
		embedder:  embedder,
		model:     embeddingModel,
		threshold: float32(cfg.Threshold),
		recorder:  recorder,
	}, nil
}

// Filter returns the messages that are not reposts of an already-seen
// announcement. A nil Suppressor keeps everything.
func (s *Suppressor) Filter(ctx context.Context, messages []digest.SourceMessage) ([]digest.SourceMessage, error) {
	if s == nil {
		return messages, nil
	}

	// Embeddings are provided manually, so no embedding func is configured.
	col, err := s.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedding collection")
	}

	var kept []digest.SourceMessage
	suppressed := 0

	for i := range messages {
		msg := &messages[i]

		vector, err := s.embedder.RouteEmbedding(ctx, s.model, msg.Text)
		if err != nil {
			return nil, errors.Wrap(err, "failed to embed message")
		}

		match, similarity, err := s.nearest(ctx, col, vector, msg.Link)
		if err != nil {
			return nil, err
		}

		if match != "" && similarity >= s.threshold {
			suppressed++
			s.record(ctx, msg.Link, fmt.Sprintf("similarity %.3f to %s", similarity, match), false)
			slog.Debug("Message suppressed as repost", "link", msg.Link, "match", match, "similarity", similarity)
			continue
		}

		err = col.AddDocuments(ctx, []chromem.Document{{
			ID:        msg.Link,
			Embedding: vector,
			Content:   msg.Text,
			Metadata: map[string]string{
				"source": msg.Source,
				"posted": msg.Timestamp.Format(time.RFC3339),
			},
		}}, 1)
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist embedding")
		}

		verdict := "no close match"
		if match != "" {
			verdict = fmt.Sprintf("similarity %.3f", similarity)
		}
		s.record(ctx, msg.Link, verdict, true)
		kept = append(kept, *msg)
	}

	if suppressed > 0 {
		slog.Info("Reposts suppressed", "suppressed", suppressed, "kept", len(kept))
	}
	return kept, nil
}

// nearest returns the closest stored document that is not the message
// itself, or "" when the store holds nothing comparable.
func (s *Suppressor) nearest(ctx context.Context, col *chromem.Collection, vector []float32, selfID string) (string, float32, error) {
	count := col.Count()
	if count == 0 {
		return "", 0, nil
	}

	// Ask for two so a stored copy of this same link cannot mask a repost.
	limit := 2
	if limit > count {
		limit = count
	}

	docs, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to query embedding store")
	}

	for _, doc := range docs {
		if doc.ID == selfID {
			continue
		}
		return doc.ID, doc.Similarity, nil
	}
	return "", 0, nil
}

func (s *Suppressor) record(ctx context.Context, link, verdict string, survived bool) {
	rec := &audit.Record{
		Stage:    stageName,
		Link:     link,
		Verdict:  verdict,
		Survived: survived,
	}
	if !survived {
		rec.DiscardReason = "duplicate of earlier announcement"
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		slog.Warn("Audit record failed", "stage", stageName, "link", link, "error", err)
	}
}
