package suppress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps message text to fixed unit vectors so similarity is
// fully controlled by the test.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) RouteEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vec, ok := f.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vec, nil
}

func newTestSuppressor(t *testing.T, embedder Embedder, threshold float64) (*Suppressor, *audit.MemoryRecorder) {
	t.Helper()
	recorder := audit.NewMemoryRecorder()
	s, err := New(t.TempDir(), embedder, "text-embedding-3-small", config.SuppressConfig{Enabled: true, Threshold: threshold}, recorder)
	require.NoError(t, err)
	return s, recorder
}

func msg(link, text string) digest.SourceMessage {
	return digest.SourceMessage{
		Text:      text,
		Link:      link,
		Source:    "telegram",
		Timestamp: time.Date(2099, 11, 27, 9, 0, 0, 0, time.UTC),
	}
}

func TestFilterSuppressesRepost(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"jazz night friday":  {1, 0, 0},
		"jazz night friday!": {0.999, 0.0447, 0},
	}}
	s, recorder := newTestSuppressor(t, embedder, 0.9)

	kept, err := s.Filter(context.Background(), []digest.SourceMessage{
		msg("https://chat.example/m/1", "jazz night friday"),
		msg("https://chat.example/m/2", "jazz night friday!"),
	})
	require.NoError(t, err)

	require.Len(t, kept, 1)
	assert.Equal(t, "https://chat.example/m/1", kept[0].Link)

	records, err := recorder.Query(context.Background(), &audit.Filter{Stage: stageName})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Survived)
	assert.False(t, records[1].Survived)
	assert.Equal(t, "duplicate of earlier announcement", records[1].DiscardReason)
	assert.Contains(t, records[1].Verdict, "https://chat.example/m/1")
}

func TestFilterKeepsDistinctMessages(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"jazz night":    {1, 0, 0},
		"board games":   {0, 1, 0},
		"hiking sunday": {0, 0, 1},
	}}
	s, _ := newTestSuppressor(t, embedder, 0.9)

	kept, err := s.Filter(context.Background(), []digest.SourceMessage{
		msg("https://chat.example/m/1", "jazz night"),
		msg("https://chat.example/m/2", "board games"),
		msg("https://chat.example/m/3", "hiking sunday"),
	})
	require.NoError(t, err)
	assert.Len(t, kept, 3)
}

func TestFilterSameLinkDoesNotMatchItself(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"jazz night friday": {1, 0, 0},
	}}
	s, _ := newTestSuppressor(t, embedder, 0.9)

	first, err := s.Filter(context.Background(), []digest.SourceMessage{msg("https://chat.example/m/1", "jazz night friday")})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The same message fetched again must survive, not suppress itself.
	second, err := s.Filter(context.Background(), []digest.SourceMessage{msg("https://chat.example/m/1", "jazz night friday")})
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestFilterRepostSurvivesAcrossRuns(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"jazz night friday": {1, 0, 0},
	}}
	s, _ := newTestSuppressor(t, embedder, 0.9)

	_, err := s.Filter(context.Background(), []digest.SourceMessage{msg("https://chat.example/m/1", "jazz night friday")})
	require.NoError(t, err)

	kept, err := s.Filter(context.Background(), []digest.SourceMessage{msg("https://chat.example/m/9", "jazz night friday")})
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestFilterBelowThresholdKept(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"jazz night": {1, 0, 0},
		"folk night": {0.5, 0.866, 0},
	}}
	s, _ := newTestSuppressor(t, embedder, 0.9)

	kept, err := s.Filter(context.Background(), []digest.SourceMessage{
		msg("https://chat.example/m/1", "jazz night"),
		msg("https://chat.example/m/2", "folk night"),
	})
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestFilterEmbeddingFailureAbortsRun(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("model offline")}
	s, _ := newTestSuppressor(t, embedder, 0.9)

	_, err := s.Filter(context.Background(), []digest.SourceMessage{msg("https://chat.example/m/1", "jazz night")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed message")
}

func TestFilterNilSuppressorKeepsEverything(t *testing.T) {
	var s *Suppressor
	in := []digest.SourceMessage{msg("https://chat.example/m/1", "jazz night")}

	kept, err := s.Filter(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, kept)
}
