package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/matsuri/internal/digest"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name          string
	messages      []digest.SourceMessage
	connectErr    error
	fetchErr      error
	disconnectErr error
	disconnected  bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeSource) FetchMessages(ctx context.Context, since time.Time) ([]digest.SourceMessage, error) {
	return f.messages, f.fetchErr
}

func (f *fakeSource) Disconnect(ctx context.Context) error {
	f.disconnected = true
	return f.disconnectErr
}

func (f *fakeSource) Health(ctx context.Context) error { return nil }

func msgAt(link string, at time.Time) digest.SourceMessage {
	return digest.SourceMessage{Text: "text for " + link, Link: link, Source: "fake", Timestamp: at}
}

func TestMultiplexerMergesDedupesAndOrders(t *testing.T) {
	t1 := time.Date(2099, 11, 20, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	a := &fakeSource{name: "a", messages: []digest.SourceMessage{
		msgAt("https://chat.example/m/2", t2),
		msgAt("https://chat.example/m/1", t1),
	}}
	b := &fakeSource{name: "b", messages: []digest.SourceMessage{
		{Text: "duplicate", Link: "https://chat.example/m/1", Source: "b", Timestamp: t2},
		msgAt("https://chat.example/m/0", t1),
	}}

	merged, err := NewMultiplexer(a, b).FetchMessages(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, merged, 3)

	assert.Equal(t, "https://chat.example/m/0", merged[0].Link)
	assert.Equal(t, "https://chat.example/m/1", merged[1].Link)
	assert.Equal(t, "https://chat.example/m/2", merged[2].Link)

	// First source wins on duplicate links.
	assert.Equal(t, "text for https://chat.example/m/1", merged[1].Text)
	assert.Equal(t, t1, merged[1].Timestamp)
}

func TestMultiplexerDropsEmptyLinks(t *testing.T) {
	a := &fakeSource{name: "a", messages: []digest.SourceMessage{
		{Text: "no link", Timestamp: time.Now()},
	}}

	merged, err := NewMultiplexer(a).FetchMessages(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestMultiplexerFetchPropagatesError(t *testing.T) {
	boom := errors.New("history unavailable")
	a := &fakeSource{name: "a", messages: []digest.SourceMessage{msgAt("https://chat.example/m/1", time.Now())}}
	b := &fakeSource{name: "b", fetchErr: boom}

	_, err := NewMultiplexer(a, b).FetchMessages(context.Background(), time.Time{})
	assert.ErrorIs(t, err, boom)
}

func TestMultiplexerConnectRollsBackOnFailure(t *testing.T) {
	a := &fakeSource{name: "a"}
	b := &fakeSource{name: "b", connectErr: errors.New("bad token")}

	err := NewMultiplexer(a, b).Connect(context.Background())
	require.Error(t, err)
	assert.True(t, a.disconnected)
	assert.False(t, b.disconnected)
}

func TestMultiplexerDisconnectJoinsErrors(t *testing.T) {
	a := &fakeSource{name: "a", disconnectErr: errors.New("a hung up")}
	b := &fakeSource{name: "b", disconnectErr: errors.New("b hung up")}

	err := NewMultiplexer(a, b).Disconnect(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "a hung up")
	assert.ErrorContains(t, err, "b hung up")
}

func TestTelegramLink(t *testing.T) {
	tests := []struct {
		name string
		chat *tgbotapi.Chat
		want string
	}{
		{
			name: "public chat by username",
			chat: &tgbotapi.Chat{ID: -1001234567890, UserName: "gigtown"},
			want: "https://t.me/gigtown/42",
		},
		{
			name: "private supergroup",
			chat: &tgbotapi.Chat{ID: -1001234567890},
			want: "https://t.me/c/1234567890/42",
		},
		{
			name: "legacy group without web link",
			chat: &tgbotapi.Chat{ID: -987654},
			want: "telegram:-987654:42",
		},
		{
			name: "nil chat",
			chat: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, telegramLink(tt.chat, 42))
		})
	}
}

func TestSlackTime(t *testing.T) {
	got, err := slackTime("1700000000.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 123456000), got)

	got, err = slackTime("1700000000.5")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 500000000), got)

	got, err = slackTime("1700000000")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), got)

	_, err = slackTime("not a timestamp")
	assert.Error(t, err)
}

func TestSlackPermalink(t *testing.T) {
	link := slackPermalink("C024BE91L", "1700000000.123456")
	assert.Equal(t, "https://slack.com/archives/C024BE91L/p1700000000123456", link)
}
