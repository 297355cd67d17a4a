package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/domain"
)

// Repository provides PostgreSQL-based data access. It owns all writes
// to stats_snapshots and current_stats.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS platform_connections (
			student_id VARCHAR(64) NOT NULL,
			platform VARCHAR(16) NOT NULL,
			username VARCHAR(128) NOT NULL,
			encrypted_token TEXT,
			last_synced_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (student_id, platform)
		)`,
		`CREATE TABLE IF NOT EXISTS stats_snapshots (
			id UUID PRIMARY KEY,
			student_id VARCHAR(64) NOT NULL,
			platform VARCHAR(16) NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			rapid_rating INT,
			blitz_rating INT,
			puzzle_rating INT,
			rapid_total INT,
			blitz_total INT,
			puzzle_total INT,
			rapid_24h INT,
			rapid_7d INT,
			blitz_24h INT,
			blitz_7d INT,
			puzzle_24h INT,
			puzzle_7d INT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS current_stats (
			student_id VARCHAR(64) NOT NULL,
			platform VARCHAR(16) NOT NULL,
			rapid_24h INT,
			rapid_7d INT,
			blitz_24h INT,
			blitz_7d INT,
			puzzle_24h INT,
			puzzle_7d INT,
			rapid_rating INT,
			blitz_rating INT,
			puzzle_rating INT,
			rapid_total INT,
			blitz_total INT,
			puzzle_total INT,
			rating_delta_rapid_24h INT,
			rating_delta_rapid_7d INT,
			rating_delta_blitz_24h INT,
			rating_delta_blitz_7d INT,
			computed_at TIMESTAMPTZ,
			last_update_ok BOOLEAN NOT NULL DEFAULT FALSE,
			last_error_code VARCHAR(32),
			last_error_message TEXT,
			last_attempt_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (student_id, platform)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_student_captured
			ON stats_snapshots(student_id, platform, captured_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_last_synced
			ON platform_connections(last_synced_at ASC NULLS FIRST)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateConnection links a student to a platform account. At most one
// connection exists per (student, platform).
func (r *Repository) CreateConnection(ctx context.Context, conn domain.PlatformConnection) error {
	query := `
		INSERT INTO platform_connections (student_id, platform, username, encrypted_token, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)
		ON CONFLICT (student_id, platform) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		conn.StudentID,
		string(conn.Platform),
		conn.Username,
		conn.EncryptedToken,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConnectionExists
	}
	return nil
}

// GetConnection retrieves one (student, platform) connection
func (r *Repository) GetConnection(ctx context.Context, studentID string, pf domain.Platform) (*domain.PlatformConnection, error) {
	query := `
		SELECT student_id, platform, username, COALESCE(encrypted_token, ''), last_synced_at, created_at, updated_at
		FROM platform_connections
		WHERE student_id = $1 AND platform = $2
	`
	var conn domain.PlatformConnection
	err := r.pool.QueryRow(ctx, query, studentID, string(pf)).Scan(
		&conn.StudentID,
		&conn.Platform,
		&conn.Username,
		&conn.EncryptedToken,
		&conn.LastSyncedAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("getting connection: %w", err)
	}
	return &conn, nil
}

// ListConnections pages through connections ordered least-recently-synced
// first, never-synced connections first of all
func (r *Repository) ListConnections(ctx context.Context, limit, offset int) ([]domain.PlatformConnection, error) {
	query := `
		SELECT student_id, platform, username, COALESCE(encrypted_token, ''), last_synced_at, created_at, updated_at
		FROM platform_connections
		ORDER BY last_synced_at ASC NULLS FIRST, student_id, platform
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.PlatformConnection
	for rows.Next() {
		var conn domain.PlatformConnection
		err := rows.Scan(
			&conn.StudentID,
			&conn.Platform,
			&conn.Username,
			&conn.EncryptedToken,
			&conn.LastSyncedAt,
			&conn.CreatedAt,
			&conn.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// ListConnectionsForStudent returns every platform connection one
// student has linked
func (r *Repository) ListConnectionsForStudent(ctx context.Context, studentID string) ([]domain.PlatformConnection, error) {
	query := `
		SELECT student_id, platform, username, COALESCE(encrypted_token, ''), last_synced_at, created_at, updated_at
		FROM platform_connections
		WHERE student_id = $1
		ORDER BY platform
	`
	rows, err := r.pool.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("listing student connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.PlatformConnection
	for rows.Next() {
		var conn domain.PlatformConnection
		err := rows.Scan(
			&conn.StudentID,
			&conn.Platform,
			&conn.Username,
			&conn.EncryptedToken,
			&conn.LastSyncedAt,
			&conn.CreatedAt,
			&conn.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// TouchLastSynced updates a connection's last-synced timestamp after a
// successful direct fetch
func (r *Repository) TouchLastSynced(ctx context.Context, studentID string, pf domain.Platform, at time.Time) error {
	query := `
		UPDATE platform_connections
		SET last_synced_at = $3, updated_at = $3
		WHERE student_id = $1 AND platform = $2
	`
	result, err := r.pool.Exec(ctx, query, studentID, string(pf), at)
	if err != nil {
		return fmt.Errorf("touching last synced: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// DeleteConnection removes a connection. Snapshots and current stats are
// kept; history outlives the link.
func (r *Repository) DeleteConnection(ctx context.Context, studentID string, pf domain.Platform) error {
	query := `DELETE FROM platform_connections WHERE student_id = $1 AND platform = $2`
	result, err := r.pool.Exec(ctx, query, studentID, string(pf))
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// AppendSnapshot inserts an immutable historical snapshot row. Insert
// only; rows are never updated or deleted.
func (r *Repository) AppendSnapshot(ctx context.Context, snap domain.StatsSnapshot) error {
	query := `
		INSERT INTO stats_snapshots (
			id, student_id, platform, captured_at,
			rapid_rating, blitz_rating, puzzle_rating,
			rapid_total, blitz_total, puzzle_total,
			rapid_24h, rapid_7d, blitz_24h, blitz_7d, puzzle_24h, puzzle_7d
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.pool.Exec(ctx, query,
		snap.ID,
		snap.StudentID,
		string(snap.Platform),
		snap.CapturedAt,
		snap.Ratings.Rapid, snap.Ratings.Blitz, snap.Ratings.Puzzle,
		snap.Totals.RapidGames, snap.Totals.BlitzGames, snap.Totals.Puzzles,
		snap.Windows.Rapid24h, snap.Windows.Rapid7d,
		snap.Windows.Blitz24h, snap.Windows.Blitz7d,
		snap.Windows.Puzzle24h, snap.Windows.Puzzle7d,
	)
	if err != nil {
		return fmt.Errorf("appending snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `
	id, student_id, platform, captured_at,
	rapid_rating, blitz_rating, puzzle_rating,
	rapid_total, blitz_total, puzzle_total,
	rapid_24h, rapid_7d, blitz_24h, blitz_7d, puzzle_24h, puzzle_7d
`

func scanSnapshot(row pgx.Row) (*domain.StatsSnapshot, error) {
	var snap domain.StatsSnapshot
	err := row.Scan(
		&snap.ID,
		&snap.StudentID,
		&snap.Platform,
		&snap.CapturedAt,
		&snap.Ratings.Rapid, &snap.Ratings.Blitz, &snap.Ratings.Puzzle,
		&snap.Totals.RapidGames, &snap.Totals.BlitzGames, &snap.Totals.Puzzles,
		&snap.Windows.Rapid24h, &snap.Windows.Rapid7d,
		&snap.Windows.Blitz24h, &snap.Windows.Blitz7d,
		&snap.Windows.Puzzle24h, &snap.Windows.Puzzle7d,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// FindBaselineSnapshot returns the most recent snapshot captured at or
// before the given time, or nil when no snapshot qualifies
func (r *Repository) FindBaselineSnapshot(ctx context.Context, studentID string, pf domain.Platform, atOrBefore time.Time) (*domain.StatsSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM stats_snapshots
		WHERE student_id = $1 AND platform = $2 AND captured_at <= $3
		ORDER BY captured_at DESC
		LIMIT 1
	`
	snap, err := scanSnapshot(r.pool.QueryRow(ctx, query, studentID, string(pf), atOrBefore))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding baseline snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns a student's snapshot history on one platform,
// newest first
func (r *Repository) ListSnapshots(ctx context.Context, studentID string, pf domain.Platform, limit int) ([]domain.StatsSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM stats_snapshots
		WHERE student_id = $1 AND platform = $2
		ORDER BY captured_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, studentID, string(pf), limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.StatsSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

const currentStatsColumns = `
	student_id, platform,
	rapid_24h, rapid_7d, blitz_24h, blitz_7d, puzzle_24h, puzzle_7d,
	rapid_rating, blitz_rating, puzzle_rating,
	rapid_total, blitz_total, puzzle_total,
	rating_delta_rapid_24h, rating_delta_rapid_7d,
	rating_delta_blitz_24h, rating_delta_blitz_7d,
	computed_at, last_update_ok, COALESCE(last_error_code, ''), COALESCE(last_error_message, ''), last_attempt_at
`

func scanCurrentStats(row pgx.Row) (*domain.CurrentStats, error) {
	var stats domain.CurrentStats
	err := row.Scan(
		&stats.StudentID,
		&stats.Platform,
		&stats.Windows.Rapid24h, &stats.Windows.Rapid7d,
		&stats.Windows.Blitz24h, &stats.Windows.Blitz7d,
		&stats.Windows.Puzzle24h, &stats.Windows.Puzzle7d,
		&stats.Ratings.Rapid, &stats.Ratings.Blitz, &stats.Ratings.Puzzle,
		&stats.Totals.RapidGames, &stats.Totals.BlitzGames, &stats.Totals.Puzzles,
		&stats.RatingDeltas.Rapid24h, &stats.RatingDeltas.Rapid7d,
		&stats.RatingDeltas.Blitz24h, &stats.RatingDeltas.Blitz7d,
		&stats.ComputedAt,
		&stats.LastUpdateOK,
		&stats.LastErrorCode,
		&stats.LastErrorMessage,
		&stats.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetCurrentStats retrieves the latest computed view for one connection
func (r *Repository) GetCurrentStats(ctx context.Context, studentID string, pf domain.Platform) (*domain.CurrentStats, error) {
	query := `SELECT ` + currentStatsColumns + ` FROM current_stats WHERE student_id = $1 AND platform = $2`
	stats, err := scanCurrentStats(r.pool.QueryRow(ctx, query, studentID, string(pf)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStatsNotFound
		}
		return nil, fmt.Errorf("getting current stats: %w", err)
	}
	return stats, nil
}

// ListCurrentStatsForStudent returns all platforms' current stats for a
// student
func (r *Repository) ListCurrentStatsForStudent(ctx context.Context, studentID string) ([]domain.CurrentStats, error) {
	query := `SELECT ` + currentStatsColumns + ` FROM current_stats WHERE student_id = $1 ORDER BY platform`
	rows, err := r.pool.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("listing current stats: %w", err)
	}
	defer rows.Close()

	var all []domain.CurrentStats
	for rows.Next() {
		stats, err := scanCurrentStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning current stats: %w", err)
		}
		all = append(all, *stats)
	}
	return all, nil
}

// UpsertCurrentStats writes the latest computed view for a connection.
// computed_at is written only when the attempt succeeded; on failure the
// existing computed_at is preserved while attempt bookkeeping and any
// fallback-computed values still update.
func (r *Repository) UpsertCurrentStats(ctx context.Context, stats domain.CurrentStats) error {
	var query string
	if stats.LastUpdateOK {
		query = `
			INSERT INTO current_stats (
				student_id, platform,
				rapid_24h, rapid_7d, blitz_24h, blitz_7d, puzzle_24h, puzzle_7d,
				rapid_rating, blitz_rating, puzzle_rating,
				rapid_total, blitz_total, puzzle_total,
				rating_delta_rapid_24h, rating_delta_rapid_7d,
				rating_delta_blitz_24h, rating_delta_blitz_7d,
				computed_at, last_update_ok, last_error_code, last_error_message, last_attempt_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
				$19, TRUE, NULL, NULL, $20, $20)
			ON CONFLICT (student_id, platform) DO UPDATE SET
				rapid_24h = $3, rapid_7d = $4, blitz_24h = $5, blitz_7d = $6,
				puzzle_24h = $7, puzzle_7d = $8,
				rapid_rating = $9, blitz_rating = $10, puzzle_rating = $11,
				rapid_total = $12, blitz_total = $13, puzzle_total = $14,
				rating_delta_rapid_24h = $15, rating_delta_rapid_7d = $16,
				rating_delta_blitz_24h = $17, rating_delta_blitz_7d = $18,
				computed_at = $19, last_update_ok = TRUE,
				last_error_code = NULL, last_error_message = NULL,
				last_attempt_at = $20, updated_at = $20
		`
		_, err := r.pool.Exec(ctx, query,
			stats.StudentID, string(stats.Platform),
			stats.Windows.Rapid24h, stats.Windows.Rapid7d,
			stats.Windows.Blitz24h, stats.Windows.Blitz7d,
			stats.Windows.Puzzle24h, stats.Windows.Puzzle7d,
			stats.Ratings.Rapid, stats.Ratings.Blitz, stats.Ratings.Puzzle,
			stats.Totals.RapidGames, stats.Totals.BlitzGames, stats.Totals.Puzzles,
			stats.RatingDeltas.Rapid24h, stats.RatingDeltas.Rapid7d,
			stats.RatingDeltas.Blitz24h, stats.RatingDeltas.Blitz7d,
			stats.ComputedAt,
			stats.LastAttemptAt,
		)
		if err != nil {
			return fmt.Errorf("upserting current stats: %w", err)
		}
		return nil
	}

	// Failed attempt: computed_at keeps its prior value (possibly null)
	query = `
		INSERT INTO current_stats (
			student_id, platform,
			rapid_24h, rapid_7d, blitz_24h, blitz_7d, puzzle_24h, puzzle_7d,
			rapid_rating, blitz_rating, puzzle_rating,
			rapid_total, blitz_total, puzzle_total,
			rating_delta_rapid_24h, rating_delta_rapid_7d,
			rating_delta_blitz_24h, rating_delta_blitz_7d,
			computed_at, last_update_ok, last_error_code, last_error_message, last_attempt_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			NULL, FALSE, NULLIF($19, ''), NULLIF($20, ''), $21, $21)
		ON CONFLICT (student_id, platform) DO UPDATE SET
			rapid_24h = $3, rapid_7d = $4, blitz_24h = $5, blitz_7d = $6,
			puzzle_24h = $7, puzzle_7d = $8,
			rapid_rating = $9, blitz_rating = $10, puzzle_rating = $11,
			rapid_total = $12, blitz_total = $13, puzzle_total = $14,
			rating_delta_rapid_24h = $15, rating_delta_rapid_7d = $16,
			rating_delta_blitz_24h = $17, rating_delta_blitz_7d = $18,
			last_update_ok = FALSE,
			last_error_code = NULLIF($19, ''), last_error_message = NULLIF($20, ''),
			last_attempt_at = $21, updated_at = $21
	`
	_, err := r.pool.Exec(ctx, query,
		stats.StudentID, string(stats.Platform),
		stats.Windows.Rapid24h, stats.Windows.Rapid7d,
		stats.Windows.Blitz24h, stats.Windows.Blitz7d,
		stats.Windows.Puzzle24h, stats.Windows.Puzzle7d,
		stats.Ratings.Rapid, stats.Ratings.Blitz, stats.Ratings.Puzzle,
		stats.Totals.RapidGames, stats.Totals.BlitzGames, stats.Totals.Puzzles,
		stats.RatingDeltas.Rapid24h, stats.RatingDeltas.Rapid7d,
		stats.RatingDeltas.Blitz24h, stats.RatingDeltas.Blitz7d,
		stats.LastErrorCode,
		stats.LastErrorMessage,
		stats.LastAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("upserting current stats: %w", err)
	}
	return nil
}

// RecordSyncAttempt marks a failed attempt that produced no values at
// all. Only the bookkeeping columns change; previously computed metrics
// stay on the row for the dashboard to show as stale.
func (r *Repository) RecordSyncAttempt(ctx context.Context, studentID string, pf domain.Platform, code, message string, at time.Time) error {
	query := `
		INSERT INTO current_stats (
			student_id, platform,
			computed_at, last_update_ok, last_error_code, last_error_message, last_attempt_at, updated_at
		)
		VALUES ($1, $2, NULL, FALSE, NULLIF($3, ''), NULLIF($4, ''), $5, $5)
		ON CONFLICT (student_id, platform) DO UPDATE SET
			last_update_ok = FALSE,
			last_error_code = NULLIF($3, ''), last_error_message = NULLIF($4, ''),
			last_attempt_at = $5, updated_at = $5
	`
	_, err := r.pool.Exec(ctx, query, studentID, string(pf), code, message, at)
	if err != nil {
		return fmt.Errorf("recording sync attempt: %w", err)
	}
	return nil
}
