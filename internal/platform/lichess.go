package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
)

// Lichess is the Lichess adapter. Games support a direct since-windowed
// NDJSON export; puzzle activity is only available for the token's own
// account, so puzzle events require a per-user token.
type Lichess struct {
	http   *httpClient
	pacer  *Pacer
	cfg    *config.PlatformConfig
	logger *slog.Logger
}

// NewLichess creates a Lichess adapter. The config token is optional and
// raises the service's rate limits.
func NewLichess(cfg *config.PlatformConfig, pacer *Pacer, logger *slog.Logger) *Lichess {
	pacer.SetSpacing(domain.PlatformLichess, cfg.RequestSpacing)
	return &Lichess{
		http:   newHTTPClient(domain.PlatformLichess, cfg.BaseURL, cfg.Token, cfg.RequestTimeout, pacer),
		pacer:  pacer,
		cfg:    cfg,
		logger: logger,
	}
}

// Platform returns the platform tag
func (a *Lichess) Platform() domain.Platform { return domain.PlatformLichess }

// EventKinds returns the directly fetchable streams
func (a *Lichess) EventKinds() []EventKind {
	return []EventKind{EventRapid, EventBlitz, EventPuzzle}
}

// WithToken returns a copy of the adapter authenticating with the given
// user token, used for the puzzle activity feed
func (a *Lichess) WithToken(token string) Adapter {
	clone := &Lichess{
		http:   newHTTPClient(domain.PlatformLichess, a.cfg.BaseURL, token, a.cfg.RequestTimeout, a.pacer),
		pacer:  a.pacer,
		cfg:    a.cfg,
		logger: a.logger,
	}
	return clone
}

// FetchEvents retrieves game or puzzle event timestamps since the given
// time, capped at maxItems. Malformed NDJSON lines are skipped.
func (a *Lichess) FetchEvents(ctx context.Context, username string, kind EventKind, since time.Time, maxItems int) ([]time.Time, error) {
	switch kind {
	case EventRapid, EventBlitz:
		return a.fetchGames(ctx, username, kind, since, maxItems)
	case EventPuzzle:
		return a.fetchPuzzleActivity(ctx, since, maxItems)
	}
	return nil, ErrUnsupportedKind
}

type lichessGame struct {
	CreatedAt int64 `json:"createdAt"`
}

func (a *Lichess) fetchGames(ctx context.Context, username string, kind EventKind, since time.Time, maxItems int) ([]time.Time, error) {
	path := fmt.Sprintf("/api/games/user/%s?since=%d&max=%d&perfType=%s&moves=false",
		username, since.UnixMilli(), maxItems, kind)
	body, err := a.http.get(ctx, path, "application/x-ndjson")
	if err != nil {
		return nil, err
	}

	var events []time.Time
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var game lichessGame
		if err := json.Unmarshal(line, &game); err != nil || game.CreatedAt == 0 {
			a.logger.Debug("skipping malformed game line", "username", username)
			continue
		}
		ts := time.UnixMilli(game.CreatedAt).UTC()
		if ts.Before(since) {
			continue
		}
		events = append(events, ts)
		if len(events) >= maxItems {
			break
		}
	}
	return events, nil
}

type lichessPuzzleRound struct {
	Date int64 `json:"date"`
}

// fetchPuzzleActivity reads the authenticated user's puzzle history. The
// endpoint is scoped to the token owner, so without a user token the
// caller falls back to baseline deltas on the lifetime puzzle count.
func (a *Lichess) fetchPuzzleActivity(ctx context.Context, since time.Time, maxItems int) ([]time.Time, error) {
	if a.http.token == "" {
		return nil, ErrUnsupportedKind
	}
	body, err := a.http.get(ctx, fmt.Sprintf("/api/puzzle/activity?max=%d", maxItems), "application/x-ndjson")
	if err != nil {
		return nil, err
	}

	var events []time.Time
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var round lichessPuzzleRound
		if err := json.Unmarshal(line, &round); err != nil || round.Date == 0 {
			a.logger.Debug("skipping malformed puzzle line")
			continue
		}
		ts := time.UnixMilli(round.Date).UTC()
		if ts.Before(since) {
			continue
		}
		events = append(events, ts)
		if len(events) >= maxItems {
			break
		}
	}
	return events, nil
}

type lichessPerf struct {
	Games  *int `json:"games"`
	Rating *int `json:"rating"`
}

type lichessUser struct {
	Username string `json:"username"`
	Perfs    struct {
		Rapid  *lichessPerf `json:"rapid"`
		Blitz  *lichessPerf `json:"blitz"`
		Puzzle *lichessPerf `json:"puzzle"`
	} `json:"perfs"`
}

// FetchCurrentProfile retrieves ratings and lifetime totals from the
// public user endpoint
func (a *Lichess) FetchCurrentProfile(ctx context.Context, username string) (*Profile, error) {
	body, err := a.http.get(ctx, "/api/user/"+username, "application/json")
	if err != nil {
		return nil, err
	}

	var user lichessUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, &Error{
			Platform: domain.PlatformLichess,
			Code:     domain.ErrCodeHTTPStatus,
			Err:      fmt.Errorf("malformed user response: %w", err),
		}
	}

	profile := &Profile{Username: username}
	if p := user.Perfs.Rapid; p != nil {
		profile.Ratings.Rapid = p.Rating
		profile.Totals.RapidGames = p.Games
	}
	if p := user.Perfs.Blitz; p != nil {
		profile.Ratings.Blitz = p.Rating
		profile.Totals.BlitzGames = p.Games
	}
	if p := user.Perfs.Puzzle; p != nil {
		profile.Ratings.Puzzle = p.Rating
		profile.Totals.Puzzles = p.Games
	}
	return profile, nil
}
