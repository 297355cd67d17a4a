package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
)

// ChessCom is the Chess.com adapter. The public API exposes finished
// games only as monthly archive pages, so windowed fetches walk the
// candidate months instead of a direct since-query.
type ChessCom struct {
	http   *httpClient
	logger *slog.Logger
}

// NewChessCom creates a Chess.com adapter
func NewChessCom(cfg *config.PlatformConfig, pacer *Pacer, logger *slog.Logger) *ChessCom {
	pacer.SetSpacing(domain.PlatformChessCom, cfg.RequestSpacing)
	return &ChessCom{
		http:   newHTTPClient(domain.PlatformChessCom, cfg.BaseURL, cfg.Token, cfg.RequestTimeout, pacer),
		logger: logger,
	}
}

// Platform returns the platform tag
func (a *ChessCom) Platform() domain.Platform { return domain.PlatformChessCom }

// EventKinds returns the directly fetchable streams. Chess.com exposes
// no puzzle event feed, so puzzle metrics always go through the baseline
// fallback.
func (a *ChessCom) EventKinds() []EventKind {
	return []EventKind{EventRapid, EventBlitz}
}

type archiveMonth struct {
	year  int
	month time.Month
}

// candidateMonths returns the archive pages that could contain events in
// a 7-day trailing window: the current month, the previous month, and,
// within the first week of the current month, the month before that.
func candidateMonths(now time.Time) []archiveMonth {
	cur := archiveMonth{now.Year(), now.Month()}
	prev := monthBefore(cur)
	months := []archiveMonth{prev, cur}
	if now.Day() <= 7 {
		months = append([]archiveMonth{monthBefore(prev)}, months...)
	}
	return months
}

func monthBefore(m archiveMonth) archiveMonth {
	t := time.Date(m.year, m.month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return archiveMonth{t.Year(), t.Month()}
}

type chessComArchive struct {
	Games []json.RawMessage `json:"games"`
}

type chessComGame struct {
	EndTime   int64  `json:"end_time"`
	TimeClass string `json:"time_class"`
	Rules     string `json:"rules"`
}

// FetchEvents walks the candidate monthly archives oldest-first and
// collects end timestamps of games of the requested time class at or
// after since, capped at maxItems.
func (a *ChessCom) FetchEvents(ctx context.Context, username string, kind EventKind, since time.Time, maxItems int) ([]time.Time, error) {
	if kind != EventRapid && kind != EventBlitz {
		return nil, ErrUnsupportedKind
	}

	var events []time.Time
	for _, m := range candidateMonths(time.Now()) {
		path := fmt.Sprintf("/pub/player/%s/games/%d/%02d", username, m.year, int(m.month))
		body, err := a.http.get(ctx, path, "application/json")
		if err != nil {
			// A month with no games can come back 404; that is an empty
			// page, not a missing user
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}

		var archive chessComArchive
		if err := json.Unmarshal(body, &archive); err != nil {
			return nil, &Error{
				Platform: domain.PlatformChessCom,
				Code:     domain.ErrCodeHTTPStatus,
				Err:      fmt.Errorf("malformed archive page: %w", err),
			}
		}

		for _, raw := range archive.Games {
			var game chessComGame
			if err := json.Unmarshal(raw, &game); err != nil {
				a.logger.Debug("skipping malformed game record",
					"username", username,
					"error", err,
				)
				continue
			}
			if game.EndTime == 0 || EventKind(game.TimeClass) != kind {
				continue
			}
			if game.Rules != "" && game.Rules != "chess" {
				continue
			}
			ts := time.Unix(game.EndTime, 0).UTC()
			if ts.Before(since) {
				continue
			}
			events = append(events, ts)
			if len(events) >= maxItems {
				return events, nil
			}
		}
	}
	return events, nil
}

type chessComRecord struct {
	Win  *int `json:"win"`
	Loss *int `json:"loss"`
	Draw *int `json:"draw"`
}

type chessComPerf struct {
	Last *struct {
		Rating *int `json:"rating"`
	} `json:"last"`
	Record *chessComRecord `json:"record"`
}

type chessComStats struct {
	ChessRapid *chessComPerf `json:"chess_rapid"`
	ChessBlitz *chessComPerf `json:"chess_blitz"`
	Tactics    *struct {
		Highest *struct {
			Rating *int `json:"rating"`
		} `json:"highest"`
	} `json:"tactics"`
}

// FetchCurrentProfile retrieves ratings and lifetime game totals from the
// player stats endpoint. Sections the account never played stay nil.
func (a *ChessCom) FetchCurrentProfile(ctx context.Context, username string) (*Profile, error) {
	body, err := a.http.get(ctx, "/pub/player/"+username+"/stats", "application/json")
	if err != nil {
		return nil, err
	}

	var stats chessComStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, &Error{
			Platform: domain.PlatformChessCom,
			Code:     domain.ErrCodeHTTPStatus,
			Err:      fmt.Errorf("malformed stats response: %w", err),
		}
	}

	profile := &Profile{Username: username}
	if p := stats.ChessRapid; p != nil {
		if p.Last != nil {
			profile.Ratings.Rapid = p.Last.Rating
		}
		profile.Totals.RapidGames = recordTotal(p.Record)
	}
	if p := stats.ChessBlitz; p != nil {
		if p.Last != nil {
			profile.Ratings.Blitz = p.Last.Rating
		}
		profile.Totals.BlitzGames = recordTotal(p.Record)
	}
	if stats.Tactics != nil && stats.Tactics.Highest != nil {
		profile.Ratings.Puzzle = stats.Tactics.Highest.Rating
	}
	return profile, nil
}

func recordTotal(r *chessComRecord) *int {
	if r == nil {
		return nil
	}
	total := 0
	for _, v := range []*int{r.Win, r.Loss, r.Draw} {
		if v != nil {
			total += *v
		}
	}
	return &total
}
