// Package sync implements the activity-delta computation engine: per
// connection it decides between direct event-window counting and the
// snapshot-baseline fallback, resolves ratings, and persists the result.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chess-activity-tracker/internal/compute"
	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/crypto"
	"github.com/chess-activity-tracker/internal/domain"
	"github.com/chess-activity-tracker/internal/platform"
)

// Store is the persistence contract the orchestrator depends on. The
// store owns all writes; the orchestrator only computes.
type Store interface {
	GetConnection(ctx context.Context, studentID string, pf domain.Platform) (*domain.PlatformConnection, error)
	ListConnections(ctx context.Context, limit, offset int) ([]domain.PlatformConnection, error)
	TouchLastSynced(ctx context.Context, studentID string, pf domain.Platform, at time.Time) error
	GetCurrentStats(ctx context.Context, studentID string, pf domain.Platform) (*domain.CurrentStats, error)
	UpsertCurrentStats(ctx context.Context, stats domain.CurrentStats) error
	RecordSyncAttempt(ctx context.Context, studentID string, pf domain.Platform, code, message string, at time.Time) error
	AppendSnapshot(ctx context.Context, snap domain.StatsSnapshot) error
	FindBaselineSnapshot(ctx context.Context, studentID string, pf domain.Platform, atOrBefore time.Time) (*domain.StatsSnapshot, error)
}

// Cache is the optional read-side cache contract
type Cache interface {
	GetLookup(ctx context.Context, handle string) ([]domain.HandleStats, error)
	SetLookup(ctx context.Context, handle string, rows []domain.HandleStats) error
	InvalidateCurrentStats(ctx context.Context, studentID string) error
}

// Broadcaster pushes successful sync results to dashboard clients
type Broadcaster interface {
	BroadcastStatsUpdate(studentID string, stats domain.CurrentStats)
}

// Service coordinates syncing for all connections
type Service struct {
	store     Store
	adapters  map[domain.Platform]platform.Adapter
	cfg       *config.SyncConfig
	platforms *config.PlatformsConfig
	logger    *slog.Logger

	sealer *crypto.Sealer
	cache  Cache
	hub    Broadcaster

	now func() time.Time
}

// NewService creates the sync orchestrator
func NewService(
	store Store,
	adapters []platform.Adapter,
	cfg *config.SyncConfig,
	platforms *config.PlatformsConfig,
	logger *slog.Logger,
) *Service {
	byPlatform := make(map[domain.Platform]platform.Adapter, len(adapters))
	for _, a := range adapters {
		byPlatform[a.Platform()] = a
	}
	return &Service{
		store:     store,
		adapters:  byPlatform,
		cfg:       cfg,
		platforms: platforms,
		logger:    logger,
		now:       time.Now,
	}
}

// SetCache attaches the optional Redis cache
func (s *Service) SetCache(c Cache) { s.cache = c }

// SetHub attaches the websocket hub for broadcasting
func (s *Service) SetHub(h Broadcaster) { s.hub = h }

// SetSealer attaches the token sealer used to decrypt per-user platform
// tokens
func (s *Service) SetSealer(sealer *crypto.Sealer) { s.sealer = sealer }

// BatchOptions targets a batch run: a single connection when StudentID
// and Platform are set, else a roster page
type BatchOptions struct {
	StudentID string
	Platform  domain.Platform
	Limit     int
	Offset    int
}

// RunBatch syncs a page of connections ordered least-recently-synced
// first. Per-connection failures are recorded in the summary and never
// abort the batch; only a failure to load the roster surfaces as an
// error. The run is bounded by the configured run timeout and reports
// partial results when it expires.
func (s *Service) RunBatch(ctx context.Context, opts BatchOptions) (*domain.BatchSummary, error) {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	var roster []domain.PlatformConnection
	if opts.StudentID != "" && opts.Platform != "" {
		conn, err := s.store.GetConnection(ctx, opts.StudentID, opts.Platform)
		if err != nil {
			return nil, err
		}
		roster = []domain.PlatformConnection{*conn}
	} else {
		limit := opts.Limit
		if limit <= 0 {
			limit = s.cfg.BatchSize
		}
		var err error
		roster, err = s.store.ListConnections(ctx, limit, opts.Offset)
		if err != nil {
			return nil, err
		}
	}

	summary := &domain.BatchSummary{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}
	for _, conn := range roster {
		if ctx.Err() != nil {
			summary.Aborted = true
			s.logger.Warn("batch run deadline reached, aborting remaining queue",
				"run_id", summary.RunID,
				"remaining", len(roster)-summary.Processed,
			)
			break
		}
		outcome := s.SyncConnection(ctx, conn)
		summary.Processed++
		if outcome.OK {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	summary.Duration = s.now().Sub(start)

	s.logger.Info("batch sync completed",
		"run_id", summary.RunID,
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"aborted", summary.Aborted,
		"duration", summary.Duration,
	)
	return summary, nil
}

// metricName returns the outcome metric name for an event kind
func metricName(kind platform.EventKind) string { return string(kind) }

// SyncConnection performs one connection's full sync attempt. All errors
// are converted into the returned outcome; nothing propagates.
func (s *Service) SyncConnection(ctx context.Context, conn domain.PlatformConnection) domain.SyncOutcome {
	now := s.now()
	since24h := now.Add(-24 * time.Hour)
	since7d := now.Add(-7 * 24 * time.Hour)

	outcome := domain.SyncOutcome{
		StudentID: conn.StudentID,
		Platform:  conn.Platform,
		Username:  conn.Username,
		Methods:   make(map[string]domain.SyncMethod),
	}

	adapter, ok := s.adapters[conn.Platform]
	if !ok {
		return s.failEarly(ctx, conn, outcome, now, domain.ErrCodeConfig, "no adapter configured for platform")
	}
	if strings.TrimSpace(conn.Username) == "" {
		return s.failEarly(ctx, conn, outcome, now, domain.ErrCodeNoUsername, domain.ErrMissingUsername.Error())
	}

	// Load prior state and baseline candidates
	prior, err := s.store.GetCurrentStats(ctx, conn.StudentID, conn.Platform)
	if err != nil && !errors.Is(err, domain.ErrStatsNotFound) {
		return s.failEarly(ctx, conn, outcome, now, domain.ErrCodePersistence, err.Error())
	}
	base24 := s.findBaseline(ctx, conn, since24h)
	base7 := s.findBaseline(ctx, conn, since7d)
	latest := s.findBaseline(ctx, conn, now)

	next := domain.CurrentStats{
		StudentID:     conn.StudentID,
		Platform:      conn.Platform,
		LastAttemptAt: now,
	}
	if prior != nil {
		next.Windows = prior.Windows
		next.Ratings = prior.Ratings
		next.Totals = prior.Totals
		next.RatingDeltas = prior.RatingDeltas
		next.ComputedAt = prior.ComputedAt
	}

	// Throttle decision: direct counting runs when the connection was
	// never synced, the throttle window has elapsed, or prior window
	// values are missing/zero (the recovery override)
	throttled := conn.LastSyncedAt != nil && now.Sub(*conn.LastSyncedAt) < s.cfg.ThrottleWindow
	override := priorCountsMissingOrZero(prior)
	attemptDirect := !throttled || override
	outcome.Throttled = throttled && !override

	var fetchErr error
	directDone := make(map[platform.EventKind]bool)
	if attemptDirect {
		for _, kind := range adapter.EventKinds() {
			events, err := s.fetchEvents(ctx, adapter, conn, kind, since7d)
			if errors.Is(err, platform.ErrUnsupportedKind) {
				continue
			}
			if err != nil {
				// One metric's failure does not abort the connection;
				// the remaining metrics still run and this one falls
				// back to the baseline delta
				if fetchErr == nil {
					fetchErr = err
				}
				s.logger.Warn("direct event fetch failed",
					"student_id", conn.StudentID,
					"platform", conn.Platform,
					"kind", kind,
					"error_code", platform.ErrorCode(err),
					"error", err,
				)
				continue
			}
			counts := compute.CountWindows(events, since24h, since7d)
			setWindowCounts(&next.Windows, kind, counts)
			directDone[kind] = true
			outcome.Methods[metricName(kind)] = domain.SyncMethodHistory
		}
		if fetchErr == nil && len(directDone) > 0 {
			if err := s.store.TouchLastSynced(ctx, conn.StudentID, conn.Platform, now); err != nil {
				s.logger.Warn("failed to update last synced",
					"student_id", conn.StudentID,
					"platform", conn.Platform,
					"error", err,
				)
			}
		}
	}

	// Current profile: lifetime totals feed the baseline fallback and
	// ratings feed the deltas. On failure the most recent snapshot
	// stands in; a missing rating never fails the sync by itself.
	var currTotals domain.LifetimeTotals
	var currRatings domain.Ratings
	profile, profileErr := adapter.FetchCurrentProfile(ctx, conn.Username)
	if profileErr == nil {
		currTotals = profile.Totals
		currRatings = profile.Ratings
	} else {
		s.logger.Warn("profile fetch failed, falling back to latest snapshot",
			"student_id", conn.StudentID,
			"platform", conn.Platform,
			"error", profileErr,
		)
		if latest != nil {
			currTotals = latest.Totals
			currRatings = latest.Ratings
		}
	}

	// Baseline-delta fallback for every metric direct counting did not
	// produce. A nil delta means "unknown": the prior value stands.
	for _, kind := range []platform.EventKind{platform.EventRapid, platform.EventBlitz, platform.EventPuzzle} {
		if directDone[kind] {
			continue
		}
		curr := lifetimeFor(currTotals, kind)
		d24 := baselineDelta(curr, base24, kind, since24h, compute.Grace24h)
		d7 := baselineDelta(curr, base7, kind, since7d, compute.Grace7d)
		if d24 != nil {
			setWindow24(&next.Windows, kind, d24)
			outcome.Methods[metricName(kind)] = domain.SyncMethodBaseline
		}
		if d7 != nil {
			setWindow7d(&next.Windows, kind, d7)
			outcome.Methods[metricName(kind)] = domain.SyncMethodBaseline
		}
	}

	// Ratings: prefer freshly fetched values, retain known ones otherwise
	next.Ratings = mergeRatings(next.Ratings, currRatings)
	next.Totals = mergeTotals(next.Totals, currTotals)

	// Rating deltas follow the same baseline-freshness rule as counts
	s.computeRatingDeltas(&next, base24, base7, since24h, since7d)

	success := fetchErr == nil && profileErr == nil
	outcome.OK = success
	next.LastUpdateOK = success
	if !success {
		firstErr := fetchErr
		if firstErr == nil {
			firstErr = profileErr
		}
		outcome.ErrorCode = platform.ErrorCode(firstErr)
		outcome.ErrorMessage = firstErr.Error()
		next.LastErrorCode = outcome.ErrorCode
		next.LastErrorMessage = outcome.ErrorMessage
	} else {
		next.ComputedAt = &now
	}

	// CurrentStats is the primary read path: its upsert failure fails
	// the attempt. The historical snapshot append is best effort.
	if err := s.store.UpsertCurrentStats(ctx, next); err != nil {
		s.logger.Error("failed to upsert current stats",
			"student_id", conn.StudentID,
			"platform", conn.Platform,
			"error", err,
		)
		outcome.OK = false
		outcome.ErrorCode = domain.ErrCodePersistence
		outcome.ErrorMessage = err.Error()
		return outcome
	}

	if success {
		snap := domain.StatsSnapshot{
			ID:         uuid.NewString(),
			StudentID:  conn.StudentID,
			Platform:   conn.Platform,
			CapturedAt: now,
			Ratings:    next.Ratings,
			Totals:     next.Totals,
			Windows:    next.Windows,
		}
		if err := s.store.AppendSnapshot(ctx, snap); err != nil {
			s.logger.Warn("failed to append snapshot",
				"student_id", conn.StudentID,
				"platform", conn.Platform,
				"error", err,
			)
		}
		if s.cache != nil {
			if err := s.cache.InvalidateCurrentStats(ctx, conn.StudentID); err != nil {
				s.logger.Warn("failed to invalidate stats cache",
					"student_id", conn.StudentID,
					"error", err,
				)
			}
		}
		if s.hub != nil {
			s.hub.BroadcastStatsUpdate(conn.StudentID, next)
		}
	}

	s.logger.Info("connection sync finished",
		"student_id", conn.StudentID,
		"platform", conn.Platform,
		"ok", outcome.OK,
		"throttled", outcome.Throttled,
		"methods", outcome.Methods,
		"error_code", outcome.ErrorCode,
	)
	return outcome
}

// fetchEvents fetches one kind's events, routing puzzle fetches through
// the connection's own platform token when one is stored
func (s *Service) fetchEvents(ctx context.Context, adapter platform.Adapter, conn domain.PlatformConnection, kind platform.EventKind, since time.Time) ([]time.Time, error) {
	a := adapter
	if kind == platform.EventPuzzle && conn.EncryptedToken != "" && s.sealer != nil {
		if carrier, ok := adapter.(platform.TokenCarrier); ok {
			token, err := s.sealer.Open(conn.EncryptedToken)
			if err != nil {
				s.logger.Warn("failed to decrypt platform token",
					"student_id", conn.StudentID,
					"platform", conn.Platform,
					"error", err,
				)
			} else {
				a = carrier.WithToken(token)
			}
		}
	}
	return a.FetchEvents(ctx, conn.Username, kind, since, s.platforms.MaxItems7d)
}

// failEarly records a sync attempt that could not start (missing
// username, missing adapter, unreadable prior state). Only attempt
// bookkeeping is written; any previously computed values stay in place.
func (s *Service) failEarly(ctx context.Context, conn domain.PlatformConnection, outcome domain.SyncOutcome, now time.Time, code, message string) domain.SyncOutcome {
	outcome.OK = false
	outcome.ErrorCode = code
	outcome.ErrorMessage = message

	if err := s.store.RecordSyncAttempt(ctx, conn.StudentID, conn.Platform, code, message, now); err != nil {
		s.logger.Error("failed to record sync attempt",
			"student_id", conn.StudentID,
			"platform", conn.Platform,
			"error", err,
		)
	}

	s.logger.Warn("skipping connection",
		"student_id", conn.StudentID,
		"platform", conn.Platform,
		"error_code", code,
		"reason", message,
	)
	return outcome
}

func (s *Service) findBaseline(ctx context.Context, conn domain.PlatformConnection, atOrBefore time.Time) *domain.StatsSnapshot {
	snap, err := s.store.FindBaselineSnapshot(ctx, conn.StudentID, conn.Platform, atOrBefore)
	if err != nil {
		s.logger.Warn("baseline lookup failed",
			"student_id", conn.StudentID,
			"platform", conn.Platform,
			"error", err,
		)
		return nil
	}
	return snap
}

func (s *Service) computeRatingDeltas(next *domain.CurrentStats, base24, base7 *domain.StatsSnapshot, since24h, since7d time.Time) {
	apply := func(dst **int, curr *int, base *domain.StatsSnapshot, rating func(domain.Ratings) *int, windowStart time.Time, grace time.Duration) {
		if base == nil {
			return
		}
		if d := compute.RatingDelta(curr, rating(base.Ratings), base.CapturedAt, windowStart, grace); d != nil {
			*dst = d
		}
	}
	rapid := func(r domain.Ratings) *int { return r.Rapid }
	blitz := func(r domain.Ratings) *int { return r.Blitz }

	apply(&next.RatingDeltas.Rapid24h, next.Ratings.Rapid, base24, rapid, since24h, compute.Grace24h)
	apply(&next.RatingDeltas.Rapid7d, next.Ratings.Rapid, base7, rapid, since7d, compute.Grace7d)
	apply(&next.RatingDeltas.Blitz24h, next.Ratings.Blitz, base24, blitz, since24h, compute.Grace24h)
	apply(&next.RatingDeltas.Blitz7d, next.Ratings.Blitz, base7, blitz, since7d, compute.Grace7d)
}

// priorCountsMissingOrZero implements the throttle override: a prior row
// whose game window counts are all absent or zero forces a fresh direct
// attempt. This conflates "genuinely zero activity" with "never
// measured"; the observed behavior is preserved deliberately.
func priorCountsMissingOrZero(prior *domain.CurrentStats) bool {
	if prior == nil {
		return true
	}
	for _, v := range []*int{
		prior.Windows.Rapid24h, prior.Windows.Rapid7d,
		prior.Windows.Blitz24h, prior.Windows.Blitz7d,
	} {
		if v != nil && *v > 0 {
			return false
		}
	}
	return true
}

func lifetimeFor(totals domain.LifetimeTotals, kind platform.EventKind) *int {
	switch kind {
	case platform.EventRapid:
		return totals.RapidGames
	case platform.EventBlitz:
		return totals.BlitzGames
	case platform.EventPuzzle:
		return totals.Puzzles
	}
	return nil
}

func baselineDelta(curr *int, base *domain.StatsSnapshot, kind platform.EventKind, windowStart time.Time, grace time.Duration) *int {
	if base == nil {
		return nil
	}
	return compute.BaselineDelta(curr, lifetimeFor(base.Totals, kind), base.CapturedAt, windowStart, grace)
}

func setWindowCounts(w *domain.WindowCounts, kind platform.EventKind, counts compute.WindowCounts) {
	c24, c7 := counts.Count24h, counts.Count7d
	setWindow24(w, kind, &c24)
	setWindow7d(w, kind, &c7)
}

func setWindow24(w *domain.WindowCounts, kind platform.EventKind, v *int) {
	switch kind {
	case platform.EventRapid:
		w.Rapid24h = v
	case platform.EventBlitz:
		w.Blitz24h = v
	case platform.EventPuzzle:
		w.Puzzle24h = v
	}
}

func setWindow7d(w *domain.WindowCounts, kind platform.EventKind, v *int) {
	switch kind {
	case platform.EventRapid:
		w.Rapid7d = v
	case platform.EventBlitz:
		w.Blitz7d = v
	case platform.EventPuzzle:
		w.Puzzle7d = v
	}
}

func mergeRatings(prior, curr domain.Ratings) domain.Ratings {
	out := prior
	if curr.Rapid != nil {
		out.Rapid = curr.Rapid
	}
	if curr.Blitz != nil {
		out.Blitz = curr.Blitz
	}
	if curr.Puzzle != nil {
		out.Puzzle = curr.Puzzle
	}
	return out
}

func mergeTotals(prior, curr domain.LifetimeTotals) domain.LifetimeTotals {
	out := prior
	if curr.RapidGames != nil {
		out.RapidGames = curr.RapidGames
	}
	if curr.BlitzGames != nil {
		out.BlitzGames = curr.BlitzGames
	}
	if curr.Puzzles != nil {
		out.Puzzles = curr.Puzzles
	}
	return out
}
