package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harunnryd/matsuri/internal/digest"
)

// ScheduleUnknown marks a message whose start datetime could not be
// extracted. The verdict is cached so the question is never re-asked.
const ScheduleUnknown = "unknown"

// ScoredInterest is one interest/confidence pair as parsed from the matching
// stage, with the interest given as an index into the list the key was
// scoped with.
type ScoredInterest struct {
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
}

// Description is the cached title and summary verdict.
type Description struct {
	Title        string `json:"title"`
	ShortSummary string `json:"short_summary"`
}

// Stores bundles the five per-stage verdict stores backing one data
// directory.
type Stores struct {
	Detection   *Store[bool]
	EventType   *Store[digest.EventType]
	Schedule    *Store[string]
	Interests   *Store[[]ScoredInterest]
	Description *Store[Description]
}

// NewStores opens the five stores under dir, creating dir if needed.
func NewStores(dir string) (*Stores, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &Stores{
		Detection:   NewStore[bool](filepath.Join(dir, "detection.json")),
		EventType:   NewStore[digest.EventType](filepath.Join(dir, "event_type.json")),
		Schedule:    NewStore[string](filepath.Join(dir, "schedule.json")),
		Interests:   NewStore[[]ScoredInterest](filepath.Join(dir, "interests.json")),
		Description: NewStore[Description](filepath.Join(dir, "description.json")),
	}, nil
}

// SaveAll flushes every store, collecting all failures rather than stopping
// at the first.
func (s *Stores) SaveAll() error {
	var errs []error
	for name, st := range s.savers() {
		if err := st.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save %s store: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Stats reports entry counts per store.
func (s *Stores) Stats() map[string]int {
	return map[string]int{
		"detection":   s.Detection.Len(),
		"event_type":  s.EventType.Len(),
		"schedule":    s.Schedule.Len(),
		"interests":   s.Interests.Len(),
		"description": s.Description.Len(),
	}
}

// Files lists the backing file paths.
func (s *Stores) Files() []string {
	return []string{
		s.Detection.Path(),
		s.EventType.Path(),
		s.Schedule.Path(),
		s.Interests.Path(),
		s.Description.Path(),
	}
}

type saver interface {
	Save() error
}

func (s *Stores) savers() map[string]saver {
	return map[string]saver{
		"detection":   s.Detection,
		"event_type":  s.EventType,
		"schedule":    s.Schedule,
		"interests":   s.Interests,
		"description": s.Description,
	}
}
