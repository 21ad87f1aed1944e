// Package render draws the digest and the cache statistics for the console.
package render

import (
	"fmt"
	"strings"

	"github.com/harunnryd/matsuri/internal/audit"
	"github.com/harunnryd/matsuri/internal/digest"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

const eventTimeLayout = "Mon, 02 Jan 2006 15:04"

type Renderer struct {
	headerStyle   lipgloss.Style
	titleStyle    lipgloss.Style
	whenStyle     lipgloss.Style
	interestStyle lipgloss.Style
	summaryStyle  lipgloss.Style
	linkStyle     lipgloss.Style
	emptyStyle    lipgloss.Style
	borderStyle   lipgloss.Style
	badgeStyles   map[digest.EventType]lipgloss.Style
}

func NewRenderer() *Renderer {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	return &Renderer{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true),
		titleStyle: lipgloss.NewStyle().
			Bold(true),
		whenStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		interestStyle: lipgloss.NewStyle().
			Foreground(gray).
			Italic(true),
		summaryStyle: lipgloss.NewStyle().
			Width(72),
		linkStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Underline(true),
		emptyStyle: lipgloss.NewStyle().
			Foreground(gray).
			Italic(true),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
		badgeStyles: map[digest.EventType]lipgloss.Style{
			digest.EventOffline: badge.Foreground(lipgloss.Color("42")),
			digest.EventOnline:  badge.Foreground(lipgloss.Color("39")),
			digest.EventHybrid:  badge.Foreground(lipgloss.Color("220")),
		},
	}
}

// RenderDigest draws the full digest, one block per event in start order.
func (r *Renderer) RenderDigest(d *digest.Digest) string {
	var b strings.Builder

	header := fmt.Sprintf("Upcoming events (%d)", len(d.Events))
	b.WriteString(r.headerStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(r.interestStyle.Render("generated " + d.GeneratedAt.Format(eventTimeLayout)))
	b.WriteString("\n")

	if len(d.Events) == 0 {
		b.WriteString("\n")
		b.WriteString(r.emptyStyle.Render("Nothing matched your interests in the current window."))
		b.WriteString("\n")
		return b.String()
	}

	for i := range d.Events {
		b.WriteString("\n")
		b.WriteString(r.renderEvent(&d.Events[i]))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) renderEvent(ev *digest.Event) string {
	var b strings.Builder

	b.WriteString(r.whenStyle.Render(ev.StartsAt.Format(eventTimeLayout)))
	b.WriteString(" ")
	b.WriteString(r.badge(ev.Type))
	b.WriteString(" ")
	b.WriteString(r.titleStyle.Render(ev.Title))
	b.WriteString("\n")

	if len(ev.MetInterests) > 0 {
		b.WriteString(r.interestStyle.Render("matches " + strings.Join(ev.MetInterests, ", ")))
		b.WriteString("\n")
	}
	if ev.ShortSummary != "" {
		b.WriteString(r.summaryStyle.Render(ev.ShortSummary))
		b.WriteString("\n")
	}
	b.WriteString(r.linkStyle.Render(ev.Link))

	return b.String()
}

func (r *Renderer) badge(t digest.EventType) string {
	style, ok := r.badgeStyles[t]
	if !ok {
		style = lipgloss.NewStyle().Padding(0, 1)
	}
	return style.Render("[" + string(t) + "]")
}

// RenderDiscards lists audit records of messages that fell out, with the
// stage that dropped each and why.
func (r *Renderer) RenderDiscards(records []*audit.Record) string {
	var b strings.Builder

	b.WriteString(r.headerStyle.Render(fmt.Sprintf("Discarded (%d)", len(records))))
	b.WriteString("\n")

	if len(records) == 0 {
		b.WriteString(r.emptyStyle.Render("Every candidate survived."))
		b.WriteString("\n")
		return b.String()
	}

	for _, rec := range records {
		b.WriteString(r.whenStyle.Render(rec.Stage))
		b.WriteString(" ")
		b.WriteString(rec.Link)
		b.WriteString(" ")
		b.WriteString(r.interestStyle.Render(rec.DiscardReason))
		if rec.CacheHit {
			b.WriteString(r.interestStyle.Render(" (cached)"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderCacheStats draws one row per stage store in pipeline order.
func (r *Renderer) RenderCacheStats(stats map[string]int, files map[string]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("Stage", "Entries", "File")

	for _, stage := range []string{"detection", "event_type", "schedule", "interests", "description"} {
		t.Row(stage, fmt.Sprintf("%d", stats[stage]), files[stage])
	}

	return t.String()
}
