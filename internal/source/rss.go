package source

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
	"github.com/harunnryd/matsuri/internal/errors"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// rssBodyLimit caps how much feed body travels into a message, in runes.
const rssBodyLimit = 500

// RSSSource reads announcement posts from the configured feeds.
type RSSSource struct {
	cfg     config.RSSConfig
	parser  *gofeed.Parser
	limiter *rate.Limiter
	now     func() time.Time
}

func NewRSS(cfg config.RSSConfig) *RSSSource {
	return &RSSSource{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		now:     time.Now,
	}
}

func (r *RSSSource) Name() string {
	return "rss"
}

func (r *RSSSource) Connect(ctx context.Context) error {
	r.parser = gofeed.NewParser()
	return nil
}

func (r *RSSSource) FetchMessages(ctx context.Context, since time.Time) ([]digest.SourceMessage, error) {
	if r.parser == nil {
		return nil, errors.Transient("RSS parser not initialized")
	}

	var messages []digest.SourceMessage

	for _, url := range r.cfg.Feeds {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		feed, err := r.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch feed "+url)
		}

		for _, item := range feed.Items {
			msg, ok := rssMessage(item, r.now())
			if !ok || msg.Timestamp.Before(since) {
				continue
			}
			messages = append(messages, msg)
		}
		slog.Debug("Feed parsed", "url", url, "items", len(feed.Items))
	}

	return messages, nil
}

func (r *RSSSource) Disconnect(ctx context.Context) error {
	return nil
}

func (r *RSSSource) Health(ctx context.Context) error {
	if r.parser == nil {
		return errors.Transient("RSS parser not initialized")
	}

	for _, url := range r.cfg.Feeds {
		if _, err := r.parser.ParseURLWithContext(url, ctx); err != nil {
			return errors.Transient("RSS feed unreachable: " + url)
		}
	}

	return nil
}

// rssMessage flattens one feed item into a source message. Items without a
// link cannot be keyed and are dropped; items without a date fall back to
// the fetch time.
func rssMessage(item *gofeed.Item, now time.Time) (digest.SourceMessage, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	if link == "" {
		return digest.SourceMessage{}, false
	}

	posted := now
	if item.PublishedParsed != nil {
		posted = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		posted = *item.UpdatedParsed
	}

	body := item.Description
	if body == "" {
		body = item.Content
	}
	text := strings.TrimSpace(item.Title + " " + truncate(stripHTML(body), rssBodyLimit))
	if text == "" {
		return digest.SourceMessage{}, false
	}

	return digest.SourceMessage{
		Text:      text,
		Link:      link,
		Source:    "rss",
		Timestamp: posted,
	}, true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
