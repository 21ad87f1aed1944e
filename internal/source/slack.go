package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/digest"
	"github.com/harunnryd/matsuri/internal/errors"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// slackHistoryPageSize is the per-request cap on conversations.history.
const slackHistoryPageSize = 200

// SlackSource pages through conversations.history for the configured
// channels. The bot must be a member of each channel it reads.
type SlackSource struct {
	cfg     config.SlackConfig
	client  *slack.Client
	limiter *rate.Limiter
}

func NewSlack(cfg config.SlackConfig) *SlackSource {
	return &SlackSource{
		cfg: cfg,
		// conversations.history is a tier 3 method, ~50 calls/min.
		limiter: rate.NewLimiter(rate.Every(1200*time.Millisecond), 1),
	}
}

func (s *SlackSource) Name() string {
	return "slack"
}

func (s *SlackSource) Connect(ctx context.Context) error {
	s.client = slack.New(s.cfg.BotToken)

	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to authenticate Slack client")
	}

	slog.Info("Slack source connected", "team", resp.Team, "user", resp.User)
	return nil
}

func (s *SlackSource) FetchMessages(ctx context.Context, since time.Time) ([]digest.SourceMessage, error) {
	if s.client == nil {
		return nil, errors.Transient("Slack client not initialized")
	}

	var messages []digest.SourceMessage
	oldest := fmt.Sprintf("%d.000000", since.Unix())

	for _, channel := range s.cfg.Channels {
		cursor := ""
		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}

			resp, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: channel,
				Cursor:    cursor,
				Oldest:    oldest,
				Limit:     slackHistoryPageSize,
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to fetch Slack history for "+channel)
			}

			for _, msg := range resp.Messages {
				if msg.SubType != "" && msg.SubType != "bot_message" {
					continue
				}
				if msg.Text == "" {
					continue
				}
				posted, err := slackTime(msg.Timestamp)
				if err != nil {
					slog.Warn("Skipping Slack message with bad timestamp", "channel", channel, "ts", msg.Timestamp)
					continue
				}

				messages = append(messages, digest.SourceMessage{
					Text:      msg.Text,
					Link:      slackPermalink(channel, msg.Timestamp),
					Source:    s.Name(),
					Timestamp: posted,
				})
			}

			cursor = resp.ResponseMetaData.NextCursor
			if !resp.HasMore || cursor == "" {
				break
			}
		}
	}

	return messages, nil
}

func (s *SlackSource) Disconnect(ctx context.Context) error {
	return nil
}

func (s *SlackSource) Health(ctx context.Context) error {
	if s.client == nil {
		return errors.Transient("Slack client not initialized")
	}

	_, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return errors.Transient("Slack connection failed")
	}

	return nil
}

// slackTime converts a Slack "seconds.fraction" timestamp to a time.Time.
func slackTime(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slack timestamp %q: %w", ts, err)
	}

	var nsec int64
	if fracPart != "" {
		// The fraction is microseconds, zero-padded on the right.
		for len(fracPart) < 6 {
			fracPart += "0"
		}
		micros, err := strconv.ParseInt(fracPart[:6], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse slack timestamp %q: %w", ts, err)
		}
		nsec = micros * 1000
	}

	return time.Unix(sec, nsec), nil
}

// slackPermalink builds the stable archives URL for a message without an
// extra API round trip per message.
func slackPermalink(channel, ts string) string {
	return fmt.Sprintf("https://slack.com/archives/%s/p%s", channel, strings.Replace(ts, ".", "", 1))
}
