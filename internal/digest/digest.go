// Package digest holds the data model shared by the pipeline stages:
// raw chat messages on the way in, curated events on the way out.
package digest

import (
	"sort"
	"time"
)

// EventType classifies how an event is attended.
type EventType string

const (
	EventOffline EventType = "offline"
	EventOnline  EventType = "online"
	EventHybrid  EventType = "hybrid"
)

// ParseEventType maps a classification ordinal to an EventType.
// 0 = offline, 1 = online, 2 = hybrid.
func ParseEventType(ordinal int) (EventType, bool) {
	switch ordinal {
	case 0:
		return EventOffline, true
	case 1:
		return EventOnline, true
	case 2:
		return EventHybrid, true
	default:
		return "", false
	}
}

// SourceMessage is one chat message as fetched from a source. Link is the
// stable permalink of the message and doubles as its identity everywhere:
// cache keys, audit records and deduplication all key on it.
type SourceMessage struct {
	Text      string    `json:"text"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one fully described entry of the final digest.
type Event struct {
	Title        string    `json:"title"`
	ShortSummary string    `json:"short_summary"`
	StartsAt     time.Time `json:"date_time"`
	MetInterests []string  `json:"met_interests"`
	Link         string    `json:"link"`
	Type         EventType `json:"event_type"`
}

// Digest is the ordered result of one pipeline run.
type Digest struct {
	GeneratedAt time.Time `json:"generated_at"`
	Events      []Event   `json:"events"`
}

// Sort orders events by start time ascending, ties broken by link.
func (d *Digest) Sort() {
	sort.Slice(d.Events, func(i, j int) bool {
		if d.Events[i].StartsAt.Equal(d.Events[j].StartsAt) {
			return d.Events[i].Link < d.Events[j].Link
		}
		return d.Events[i].StartsAt.Before(d.Events[j].StartsAt)
	})
}
