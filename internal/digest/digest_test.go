package digest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ksusonic/event-platform/internal/migrations"
	"github.com/ksusonic/event-platform/internal/platform"
	"github.com/ksusonic/event-platform/internal/sqlite"
)

type fakeMessenger struct {
	sent    []string
	sendErr error
}

func (f *fakeMessenger) SendMessage(_ context.Context, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeSummarizer struct {
	intro string
	err   error
}

func (f *fakeSummarizer) Summarize(context.Context, []platform.Event) (string, error) {
	return f.intro, f.err
}

func testRepo(t *testing.T) sqlite.Repo {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	dbx.SetMaxOpenConns(1)

	require.NoError(t, migrations.Run(dbx))

	return sqlite.New(dbx)
}

func seedEvent(t *testing.T, repo sqlite.Repo, link, title string, date time.Time) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.InsertPost(ctx, platform.Post{Link: link, Content: "c"}))
	_, err := repo.UpsertEvent(ctx, platform.Event{
		PostLink:   link,
		Title:      &title,
		EventDate:  &date,
		Confidence: 0.9,
	})
	require.NoError(t, err)
}

func tomorrow() time.Time {
	return time.Now().UTC().Add(24 * time.Hour)
}

func TestRun_PublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	seedEvent(t, repo, "https://t.me/s/ch/1", "GopherCon", tomorrow())
	seedEvent(t, repo, "https://t.me/s/ch/2", "Go Meetup Berlin", tomorrow())

	messenger := &fakeMessenger{}
	pub := New(repo, repo, messenger, nil, 0)

	report, err := pub.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Events)
	assert.Equal(t, 1, report.Messages)

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "GopherCon")
	assert.Contains(t, messenger.sent[0], "Go Meetup Berlin")
	assert.Contains(t, messenger.sent[0], "https://t.me/s/ch/1")

	// Everything published: a second run is a no-op.
	report, err = pub.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Events)
	assert.Empty(t, messenger.sent[1:])
}

func TestRun_SendFailureLeavesEventsUnpublished(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	seedEvent(t, repo, "https://t.me/s/ch/1", "GopherCon", tomorrow())

	messenger := &fakeMessenger{sendErr: errors.New("telegram down")}
	pub := New(repo, repo, messenger, nil, 0)

	_, err := pub.Run(ctx)
	require.Error(t, err)

	// The event must still be pending for the next run.
	now := time.Now().UTC()
	events, err := repo.UnpublishedEvents(ctx, now, now.Add(DefaultWindow), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRun_OnlyUpcomingWindowPublished(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)

	seedEvent(t, repo, "https://t.me/s/ch/1", "Conf From The Past", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	seedEvent(t, repo, "https://t.me/s/ch/2", "GopherCon", tomorrow())
	seedEvent(t, repo, "https://t.me/s/ch/3", "Far Future Summit", time.Now().UTC().Add(30*24*time.Hour))

	messenger := &fakeMessenger{}
	pub := New(repo, repo, messenger, nil, 0)

	report, err := pub.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Events)

	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "GopherCon")
	assert.NotContains(t, messenger.sent[0], "Conf From The Past")
	assert.NotContains(t, messenger.sent[0], "Far Future Summit")

	// Only the published event's post is marked.
	published, err := repo.Post(ctx, "https://t.me/s/ch/2")
	require.NoError(t, err)
	assert.True(t, published.IsPublished)

	stale, err := repo.Post(ctx, "https://t.me/s/ch/1")
	require.NoError(t, err)
	assert.False(t, stale.IsPublished)
}

func TestRun_SummarizerFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	seedEvent(t, repo, "https://t.me/s/ch/1", "GopherCon", tomorrow())

	messenger := &fakeMessenger{}
	pub := New(repo, repo, messenger, &fakeSummarizer{err: errors.New("rate limited")}, 0)

	report, err := pub.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Events)
	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "GopherCon")
}

func TestRun_IntroIncluded(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	seedEvent(t, repo, "https://t.me/s/ch/1", "GopherCon", tomorrow())

	messenger := &fakeMessenger{}
	pub := New(repo, repo, messenger, &fakeSummarizer{intro: "One big conference this week."}, 0)

	_, err := pub.Run(ctx)
	require.NoError(t, err)
	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0], "One big conference this week.")
}

func TestRenderEvent(t *testing.T) {
	title := "GopherCon"
	loc := "Berlin"
	typ := "conference"
	summary := "Talks and workshops."
	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	block := renderEvent(platform.Event{
		PostLink:  "https://t.me/s/ch/1",
		Title:     &title,
		Summary:   &summary,
		EventDate: &date,
		Location:  &loc,
		EventType: &typ,
	})

	assert.Contains(t, block, "*GopherCon*")
	assert.Contains(t, block, "Sun, 15 Mar 2026")
	assert.NotContains(t, block, "~Sun")
	assert.Contains(t, block, "📍 Berlin")
	assert.Contains(t, block, "🏷 conference")
	assert.Contains(t, block, "[source](https://t.me/s/ch/1)")

	approx := renderEvent(platform.Event{
		PostLink:          "https://t.me/s/ch/2",
		EventDate:         &date,
		DateIsApproximate: true,
	})
	assert.Contains(t, approx, "~Sun, 15 Mar 2026")
	assert.Contains(t, approx, "Untitled event")
}

func TestSplitMessages(t *testing.T) {
	t.Run("packs small blocks together", func(t *testing.T) {
		got := SplitMessages([]string{"a", "b", "c"})
		require.Len(t, got, 1)
		assert.Equal(t, "a\n\nb\n\nc", got[0])
	})

	t.Run("splits at the length limit", func(t *testing.T) {
		big := strings.Repeat("x", 3000)
		got := SplitMessages([]string{big, big, big})
		assert.Len(t, got, 3)
		for _, msg := range got {
			assert.LessOrEqual(t, len(msg), maxMessageLen)
		}
	})

	t.Run("truncates a single oversized block", func(t *testing.T) {
		huge := strings.Repeat("x", maxMessageLen+100)
		got := SplitMessages([]string{huge})
		require.Len(t, got, 1)
		assert.Len(t, got[0], maxMessageLen)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, SplitMessages(nil))
	})
}

func TestTelegramMessenger(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, jsonDecode(r, &gotBody))
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	m := NewTelegramMessenger("token123", "-10042")
	m.baseURL = srv.URL

	require.NoError(t, m.SendMessage(context.Background(), "hello"))
	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "-10042", gotBody.ChatID)
	assert.Equal(t, "hello", gotBody.Text)
	assert.Equal(t, "Markdown", gotBody.ParseMode)
	assert.True(t, gotBody.DisableWebPagePreview)
}

func TestTelegramMessenger_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	t.Cleanup(srv.Close)

	m := NewTelegramMessenger("token123", "-10042")
	m.baseURL = srv.URL

	err := m.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
