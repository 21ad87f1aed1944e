package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/harunnryd/matsuri/internal/cache"
	"github.com/harunnryd/matsuri/internal/digest"
)

// Placeholder text for description fields the model left out.
const (
	defaultTitle   = "Untitled event"
	defaultSummary = "No summary available."
)

// LineKind classifies one response line against the stage grammar.
type LineKind int

const (
	LineOk LineKind = iota
	LineMalformed
	LineOutOfRange
	LineDuplicate
)

func (k LineKind) String() string {
	switch k {
	case LineOk:
		return "ok"
	case LineMalformed:
		return "malformed"
	case LineOutOfRange:
		return "out_of_range"
	case LineDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Line is one tokenized response line. Index is the 1-based item or
// interest number the line referenced, when one could be read at all.
type Line struct {
	Raw   string
	Index int
	Value string
	Kind  LineKind
}

func responseLines(response string) []string {
	var out []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// cutIndexed splits an "INDEX: VALUE" line. ok is false when the line does
// not start with an integer followed by a colon.
func cutIndexed(line string) (index int, value string, ok bool) {
	left, right, found := strings.Cut(line, ":")
	if !found {
		return 0, "", false
	}
	index, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, "", false
	}
	return index, strings.TrimSpace(right), true
}

// parseDetectionLines reads bare 1-based indices, one per line; a listed
// index marks that message as an event announcement. An empty body or the
// single word "none" marks the whole chunk negative.
func parseDetectionLines(response string, n int) (map[int]bool, []Line) {
	verdicts := make(map[int]bool)

	body := strings.TrimSpace(response)
	if body == "" || strings.EqualFold(body, "none") {
		return verdicts, nil
	}

	var lines []Line
	for _, raw := range responseLines(response) {
		if strings.EqualFold(raw, "none") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimRight(raw, ".:"))
		if err != nil {
			lines = append(lines, Line{Raw: raw, Kind: LineMalformed})
			continue
		}
		if idx < 1 || idx > n {
			lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineOutOfRange})
			continue
		}
		if verdicts[idx] {
			lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineDuplicate})
			continue
		}
		verdicts[idx] = true
		lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineOk})
	}
	return verdicts, lines
}

// parseEventTypeLines reads "INDEX: CLASS" lines where CLASS is the ordinal
// 0 (offline), 1 (online) or 2 (hybrid).
func parseEventTypeLines(response string, n int) (map[int]digest.EventType, []Line) {
	verdicts := make(map[int]digest.EventType, n)

	var lines []Line
	for _, raw := range responseLines(response) {
		idx, value, ok := cutIndexed(raw)
		if !ok {
			lines = append(lines, Line{Raw: raw, Kind: LineMalformed})
			continue
		}
		if idx < 1 || idx > n {
			lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineOutOfRange})
			continue
		}
		ordinal, err := strconv.Atoi(value)
		if err != nil {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineMalformed})
			continue
		}
		eventType, known := digest.ParseEventType(ordinal)
		if !known {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineMalformed})
			continue
		}
		if _, seen := verdicts[idx]; seen {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineDuplicate})
			continue
		}
		verdicts[idx] = eventType
		lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineOk})
	}
	return verdicts, lines
}

// parseScheduleLines reads "INDEX: free text" lines; the text is the
// extracted start datetime or the word "unknown". Validity of the datetime
// itself is judged later, against the current clock.
func parseScheduleLines(response string, n int) (map[int]string, []Line) {
	verdicts := make(map[int]string, n)

	var lines []Line
	for _, raw := range responseLines(response) {
		idx, value, ok := cutIndexed(raw)
		if !ok || value == "" {
			lines = append(lines, Line{Raw: raw, Kind: LineMalformed})
			continue
		}
		if idx < 1 || idx > n {
			lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineOutOfRange})
			continue
		}
		if _, seen := verdicts[idx]; seen {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineDuplicate})
			continue
		}
		verdicts[idx] = value
		lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineOk})
	}
	return verdicts, lines
}

// parseInterestBlocks reads per-item blocks. A bare "N:" line opens the
// block for item N; "INTEREST:CONFIDENCE" lines inside it score the 1-based
// interest number against the item. A single-item chunk may omit the block
// marker entirely. Stored indices are 0-based into the interest list.
func parseInterestBlocks(response string, n, interestCount int) (map[int][]cache.ScoredInterest, []Line) {
	verdicts := make(map[int][]cache.ScoredInterest)

	var lines []Line
	current := 0
	if n == 1 {
		current = 1
	}
	markers := make(map[int]bool)
	seen := make(map[int]map[int]bool)

	for _, raw := range responseLines(response) {
		idx, value, ok := cutIndexed(raw)
		if !ok {
			lines = append(lines, Line{Raw: raw, Kind: LineMalformed})
			continue
		}

		if value == "" {
			// Block marker.
			if idx < 1 || idx > n {
				lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineOutOfRange})
				continue
			}
			kind := LineOk
			if markers[idx] {
				kind = LineDuplicate
			}
			markers[idx] = true
			current = idx
			if _, exists := verdicts[idx]; !exists {
				verdicts[idx] = []cache.ScoredInterest{}
			}
			lines = append(lines, Line{Raw: raw, Index: idx, Kind: kind})
			continue
		}

		confidence, err := strconv.ParseFloat(value, 64)
		if err != nil {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineMalformed})
			continue
		}
		if current == 0 {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineMalformed})
			continue
		}
		if idx < 1 || idx > interestCount {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineOutOfRange})
			continue
		}
		if confidence < 0 || confidence > 1 {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineMalformed})
			continue
		}
		if seen[current] == nil {
			seen[current] = make(map[int]bool)
		}
		if seen[current][idx] {
			lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineDuplicate})
			continue
		}
		seen[current][idx] = true
		verdicts[current] = append(verdicts[current], cache.ScoredInterest{Index: idx - 1, Confidence: confidence})
		lines = append(lines, Line{Raw: raw, Index: idx, Value: value, Kind: LineOk})
	}
	return verdicts, lines
}

var (
	titleLine   = regexp.MustCompile(`(?i)^title\s*:\s*(.+)$`)
	summaryLine = regexp.MustCompile(`(?i)^summary\s*:\s*(.+)$`)
	// DESCRIPTION is accepted as a summary alias; SUMMARY wins when both
	// appear in a block.
	aliasLine = regexp.MustCompile(`(?i)^description\s*:\s*(.+)$`)
)

type descriptionDraft struct {
	title   string
	summary string
	alias   string
}

// parseDescriptionBlocks reads per-item blocks of TITLE/SUMMARY keyword
// lines, matched case-insensitively. Fields the block never filled get
// placeholder text; an item's block is never failed for being incomplete.
func parseDescriptionBlocks(response string, n int) (map[int]cache.Description, []Line) {
	drafts := make(map[int]*descriptionDraft)

	var lines []Line
	current := 0
	if n == 1 {
		current = 1
		drafts[1] = &descriptionDraft{}
	}
	markers := make(map[int]bool)

	for _, raw := range responseLines(response) {
		if idx, value, ok := cutIndexed(raw); ok && value == "" {
			if idx < 1 || idx > n {
				lines = append(lines, Line{Raw: raw, Index: idx, Kind: LineOutOfRange})
				continue
			}
			kind := LineOk
			if markers[idx] {
				kind = LineDuplicate
			}
			markers[idx] = true
			current = idx
			if drafts[idx] == nil {
				drafts[idx] = &descriptionDraft{}
			}
			lines = append(lines, Line{Raw: raw, Index: idx, Kind: kind})
			continue
		}

		if m := titleLine.FindStringSubmatch(raw); m != nil {
			lines = append(lines, keywordLine(drafts, current, raw, m[1], func(d *descriptionDraft, text string) bool {
				if d.title != "" {
					return false
				}
				d.title = text
				return true
			}))
			continue
		}
		if m := summaryLine.FindStringSubmatch(raw); m != nil {
			lines = append(lines, keywordLine(drafts, current, raw, m[1], func(d *descriptionDraft, text string) bool {
				if d.summary != "" {
					return false
				}
				d.summary = text
				return true
			}))
			continue
		}
		if m := aliasLine.FindStringSubmatch(raw); m != nil {
			lines = append(lines, keywordLine(drafts, current, raw, m[1], func(d *descriptionDraft, text string) bool {
				if d.alias != "" {
					return false
				}
				d.alias = text
				return true
			}))
			continue
		}
		lines = append(lines, Line{Raw: raw, Kind: LineMalformed})
	}

	verdicts := make(map[int]cache.Description, len(drafts))
	for idx, d := range drafts {
		title := d.title
		if title == "" {
			title = defaultTitle
		}
		summary := d.summary
		if summary == "" {
			summary = d.alias
		}
		if summary == "" {
			summary = defaultSummary
		}
		verdicts[idx] = cache.Description{Title: title, ShortSummary: summary}
	}
	return verdicts, lines
}

func keywordLine(drafts map[int]*descriptionDraft, current int, raw, text string, set func(*descriptionDraft, string) bool) Line {
	if current == 0 {
		return Line{Raw: raw, Kind: LineMalformed}
	}
	if !set(drafts[current], strings.TrimSpace(text)) {
		return Line{Raw: raw, Index: current, Kind: LineDuplicate}
	}
	return Line{Raw: raw, Index: current, Kind: LineOk}
}
