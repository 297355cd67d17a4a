package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chess-activity-tracker/internal/compute"
	"github.com/chess-activity-tracker/internal/domain"
	"github.com/chess-activity-tracker/internal/platform"
)

// LookupHandle resolves a free-text handle against every platform and
// returns one row per platform on which it exists, with current ratings
// and 24h/7d game counts. It returns ErrHandleNotFound only when the
// handle resolves nowhere.
func (s *Service) LookupHandle(ctx context.Context, handle string) ([]domain.HandleStats, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, domain.ErrInvalidRequest
	}

	if s.cache != nil {
		rows, err := s.cache.GetLookup(ctx, handle)
		if err != nil {
			s.logger.Warn("lookup cache read failed", "handle", handle, "error", err)
		} else if rows != nil {
			return rows, nil
		}
	}

	now := s.now()
	since24h := now.Add(-24 * time.Hour)
	since7d := now.Add(-7 * 24 * time.Hour)

	var rows []domain.HandleStats
	for _, pf := range domain.Platforms {
		adapter, ok := s.adapters[pf]
		if !ok {
			continue
		}
		profile, err := adapter.FetchCurrentProfile(ctx, handle)
		if errors.Is(err, platform.ErrUserNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("lookup profile fetch failed",
				"handle", handle,
				"platform", pf,
				"error", err,
			)
			continue
		}

		row := domain.HandleStats{
			Platform: pf,
			Username: handle,
			Ratings:  profile.Ratings,
		}
		for _, kind := range []platform.EventKind{platform.EventRapid, platform.EventBlitz} {
			events, err := adapter.FetchEvents(ctx, handle, kind, since7d, s.platforms.MaxItems7d)
			if err != nil {
				s.logger.Warn("lookup event fetch failed",
					"handle", handle,
					"platform", pf,
					"kind", kind,
					"error", err,
				)
				continue
			}
			setWindowCounts(&row.Windows, kind, compute.CountWindows(events, since24h, since7d))
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, domain.ErrHandleNotFound
	}

	if s.cache != nil {
		if err := s.cache.SetLookup(ctx, handle, rows); err != nil {
			s.logger.Warn("lookup cache write failed", "handle", handle, "error", err)
		}
	}
	return rows, nil
}
