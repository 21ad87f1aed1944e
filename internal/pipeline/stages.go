package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/matsuri/internal/cache"
	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
)

// Stage names, as they appear in audit records and logs.
const (
	StageDetection   = "detection"
	StageEventType   = "event_type"
	StageSchedule    = "schedule"
	StageInterests   = "interests"
	StageDescription = "description"
)

const (
	scheduleLayout     = "02 Jan 2006 15:04"
	scheduleHourLayout = "02 Jan 2006 15"
	postedLayout       = "Mon, 02 Jan 2006 15:04"
)

func (p *Pipeline) detectionSpec() stageSpec[bool] {
	return stageSpec[bool]{
		name:      StageDetection,
		store:     p.stores.Detection,
		batchSize: p.cfg.BatchSizes.Detection,
		template:  p.cfg.Prompts.Detection,
		quietFill: true,
		fallback:  false,
		key: func(c *Candidate) string {
			return cache.Key(c.Message.Link)
		},
		item: func(c *Candidate) string {
			return flattenText(c.Message.Text)
		},
		parse: parseDetectionLines,
		render: func(v bool) string {
			if v {
				return "event"
			}
			return "not event"
		},
		apply: func(c *Candidate, v bool) (bool, string) {
			if !v {
				return false, "not announcing an event"
			}
			return true, ""
		},
	}
}

func (p *Pipeline) eventTypeSpec() stageSpec[digest.EventType] {
	return stageSpec[digest.EventType]{
		name:      StageEventType,
		store:     p.stores.EventType,
		batchSize: p.cfg.BatchSizes.EventType,
		template:  p.cfg.Prompts.EventType,
		fallback:  digest.EventOffline,
		key: func(c *Candidate) string {
			return cache.Key(c.Message.Link)
		},
		item: func(c *Candidate) string {
			return flattenText(c.Message.Text)
		},
		parse: parseEventTypeLines,
		render: func(v digest.EventType) string {
			return string(v)
		},
		apply: func(c *Candidate, v digest.EventType) (bool, string) {
			c.Type = v
			// The skip applies to cached verdicts too: flipping the
			// preference takes effect without re-classifying anything.
			if p.cfg.SkipOnline && v == digest.EventOnline {
				return false, "online event skipped"
			}
			return true, ""
		},
	}
}

func (p *Pipeline) scheduleSpec() stageSpec[string] {
	return stageSpec[string]{
		name:      StageSchedule,
		store:     p.stores.Schedule,
		batchSize: p.cfg.BatchSizes.Schedule,
		template:  p.cfg.Prompts.Schedule,
		fallback:  cache.ScheduleUnknown,
		key: func(c *Candidate) string {
			return cache.ScopedKey(c.Message.Link, cache.LabelSlots, p.cfg.Windows)
		},
		item: func(c *Candidate) string {
			return fmt.Sprintf("(posted %s) %s", c.Message.Timestamp.Format(postedLayout), flattenText(c.Message.Text))
		},
		parse: parseScheduleLines,
		render: func(v string) string {
			return v
		},
		// The apply step re-judges cached verdicts against the current
		// clock and window set: a start time that was fine last run may
		// have passed since.
		apply: func(c *Candidate, v string) (bool, string) {
			if strings.EqualFold(strings.TrimSpace(v), cache.ScheduleUnknown) {
				return false, "no start time extracted"
			}
			startsAt, err := parseScheduleTime(v)
			if err != nil {
				return false, "start time unparsable"
			}
			if !startsAt.After(p.now()) {
				return false, "already started"
			}
			if startsAt.After(c.Message.Timestamp.AddDate(0, 0, p.cfg.LookaheadDays)) {
				return false, "beyond lookahead window"
			}
			if !config.AnyAdmits(p.windows, startsAt) {
				return false, "outside availability windows"
			}
			c.StartsAt = startsAt
			return true, ""
		},
	}
}

func (p *Pipeline) interestsSpec() stageSpec[[]cache.ScoredInterest] {
	return stageSpec[[]cache.ScoredInterest]{
		name:      StageInterests,
		store:     p.stores.Interests,
		batchSize: p.cfg.BatchSizes.Interests,
		template:  p.cfg.Prompts.Interests,
		fallback:  nil,
		key: func(c *Candidate) string {
			return cache.ScopedKey(c.Message.Link, cache.LabelInterests, p.cfg.Interests)
		},
		item: func(c *Candidate) string {
			return fmt.Sprintf("[%s, starts %s] %s", c.Type, c.StartsAt.Format(scheduleLayout), flattenText(c.Message.Text))
		},
		parse: func(response string, n int) (map[int][]cache.ScoredInterest, []Line) {
			return parseInterestBlocks(response, n, len(p.cfg.Interests))
		},
		render: renderScoredInterests,
		// All in-range pairs are cached; the confidence threshold is
		// applied here so it can change between runs without re-calling.
		apply: func(c *Candidate, v []cache.ScoredInterest) (bool, string) {
			if len(v) == 0 {
				return false, "no valid interests parsed"
			}

			kept := make([]cache.ScoredInterest, 0, len(v))
			for _, m := range v {
				if m.Index < 0 || m.Index >= len(p.cfg.Interests) {
					continue
				}
				if m.Confidence >= p.cfg.MinConfidence {
					kept = append(kept, m)
				}
			}
			if len(kept) == 0 {
				return false, "all matches below threshold"
			}

			sort.Slice(kept, func(i, j int) bool {
				if kept[i].Confidence == kept[j].Confidence {
					return kept[i].Index < kept[j].Index
				}
				return kept[i].Confidence > kept[j].Confidence
			})

			names := make([]string, 0, len(kept))
			for _, m := range kept {
				names = append(names, p.cfg.Interests[m.Index])
			}
			c.Matches = kept
			c.Interests = names
			return true, ""
		},
	}
}

func (p *Pipeline) descriptionSpec() stageSpec[cache.Description] {
	return stageSpec[cache.Description]{
		name:      StageDescription,
		store:     p.stores.Description,
		batchSize: p.cfg.BatchSizes.Description,
		template:  p.cfg.Prompts.Description,
		creative:  true,
		fallback:  cache.Description{Title: defaultTitle, ShortSummary: defaultSummary},
		key: func(c *Candidate) string {
			return cache.ScopedKey(c.Message.Link, cache.LabelInterests, p.cfg.Interests)
		},
		item: func(c *Candidate) string {
			return fmt.Sprintf("[%s, starts %s, interests: %s] %s",
				c.Type, c.StartsAt.Format(scheduleLayout), strings.Join(c.Interests, ", "), flattenText(c.Message.Text))
		},
		parse: parseDescriptionBlocks,
		render: func(v cache.Description) string {
			return v.Title
		},
		apply: func(c *Candidate, v cache.Description) (bool, string) {
			c.Title = v.Title
			c.ShortSummary = v.ShortSummary
			return true, ""
		},
	}
}

// parseScheduleTime parses an extracted start datetime. A time given to the
// hour only is read as minute zero.
func parseScheduleTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(scheduleLayout, v, time.Local); err == nil {
		return t, nil
	}
	return time.ParseInLocation(scheduleHourLayout, v, time.Local)
}

func renderScoredInterests(v []cache.ScoredInterest) string {
	if len(v) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(v))
	for _, m := range v {
		parts = append(parts, fmt.Sprintf("%d:%.2f", m.Index+1, m.Confidence))
	}
	return strings.Join(parts, " ")
}
