package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
)

func newLichessForTest(t *testing.T, token string, handler http.Handler) *Lichess {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.PlatformConfig{
		BaseURL:        srv.URL,
		Token:          token,
		RequestSpacing: time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}
	return NewLichess(cfg, NewPacer(testLogger()), testLogger())
}

func gameLine(createdAt time.Time) string {
	return fmt.Sprintf(`{"id":"abc","createdAt":%d,"perf":"rapid"}`, createdAt.UnixMilli())
}

func TestLichess_FetchGames(t *testing.T) {
	now := time.Now().UTC()
	since := now.Add(-7 * 24 * time.Hour)
	body := strings.Join([]string{
		gameLine(now.Add(-2 * time.Hour)),
		gameLine(now.Add(-12 * time.Hour)),
		gameLine(now.Add(-3 * 24 * time.Hour)),
	}, "\n")

	var gotPath string
	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "rapid", r.URL.Query().Get("perfType"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		fmt.Fprint(w, body)
	}))

	events, err := adapter.FetchEvents(context.Background(), "penguin", EventRapid, since, 400)
	require.NoError(t, err)
	assert.Equal(t, "/api/games/user/penguin", gotPath)
	assert.Len(t, events, 3)
}

func TestLichess_MalformedLinesSkipped(t *testing.T) {
	now := time.Now().UTC()
	since := now.Add(-7 * 24 * time.Hour)
	body := strings.Join([]string{
		gameLine(now.Add(-1 * time.Hour)),
		`{not json at all`,
		``,
		gameLine(now.Add(-2 * time.Hour)),
		`{"id":"x"}`,
	}, "\n")

	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))

	events, err := adapter.FetchEvents(context.Background(), "penguin", EventRapid, since, 400)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestLichess_EmptyExport(t *testing.T) {
	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	events, err := adapter.FetchEvents(context.Background(), "penguin", EventBlitz, time.Now().Add(-24*time.Hour), 200)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLichess_RateLimited(t *testing.T) {
	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := adapter.FetchEvents(context.Background(), "penguin", EventRapid, time.Now().Add(-24*time.Hour), 200)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeRateLimit, ErrorCode(err))
}

func TestLichess_PuzzleRequiresToken(t *testing.T) {
	adapter := newLichessForTest(t, "", http.NotFoundHandler())
	_, err := adapter.FetchEvents(context.Background(), "penguin", EventPuzzle, time.Now(), 200)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestLichess_PuzzleActivityWithToken(t *testing.T) {
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)
	body := strings.Join([]string{
		fmt.Sprintf(`{"date":%d,"win":true}`, now.Add(-1*time.Hour).UnixMilli()),
		fmt.Sprintf(`{"date":%d,"win":false}`, now.Add(-2*time.Hour).UnixMilli()),
		fmt.Sprintf(`{"date":%d,"win":true}`, now.Add(-48*time.Hour).UnixMilli()),
	}, "\n")

	adapter := newLichessForTest(t, "lip_token", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/puzzle/activity", r.URL.Path)
		assert.Equal(t, "Bearer lip_token", r.Header.Get("Authorization"))
		fmt.Fprint(w, body)
	}))

	events, err := adapter.FetchEvents(context.Background(), "penguin", EventPuzzle, since, 200)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestLichess_WithToken(t *testing.T) {
	var auth string
	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"username":"penguin","perfs":{}}`)
	}))

	tokened := adapter.WithToken("lip_user")
	_, err := tokened.FetchCurrentProfile(context.Background(), "penguin")
	require.NoError(t, err)
	assert.Equal(t, "Bearer lip_user", auth)
}

func TestLichess_FetchCurrentProfile(t *testing.T) {
	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/penguin", r.URL.Path)
		fmt.Fprint(w, `{
			"username":"penguin",
			"perfs":{
				"rapid":{"games":320,"rating":1840},
				"blitz":{"games":1500,"rating":1790},
				"puzzle":{"games":4200,"rating":2050}
			}
		}`)
	}))

	profile, err := adapter.FetchCurrentProfile(context.Background(), "penguin")
	require.NoError(t, err)
	require.NotNil(t, profile.Ratings.Rapid)
	assert.Equal(t, 1840, *profile.Ratings.Rapid)
	require.NotNil(t, profile.Totals.RapidGames)
	assert.Equal(t, 320, *profile.Totals.RapidGames)
	require.NotNil(t, profile.Totals.Puzzles)
	assert.Equal(t, 4200, *profile.Totals.Puzzles)
}

func TestLichess_ProfileMissingPerfs(t *testing.T) {
	adapter := newLichessForTest(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"username":"penguin","perfs":{"blitz":{"games":10,"rating":1200}}}`)
	}))

	profile, err := adapter.FetchCurrentProfile(context.Background(), "penguin")
	require.NoError(t, err)
	assert.Nil(t, profile.Ratings.Rapid)
	assert.Nil(t, profile.Totals.RapidGames)
	require.NotNil(t, profile.Ratings.Blitz)
	assert.Equal(t, 1200, *profile.Ratings.Blitz)
}

func TestLichess_ProfileNotFound(t *testing.T) {
	adapter := newLichessForTest(t, "", http.NotFoundHandler())
	_, err := adapter.FetchCurrentProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
