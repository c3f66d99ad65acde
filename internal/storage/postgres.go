package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/mission-bot/internal/models"
)

// PostgresRepository implements MissionStore using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
	// LazyConnect skips the initial ping; connections are made on first use
	LazyConnect bool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 5
	}

	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	} else {
		poolConfig.MinConns = 1
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %w", ErrSourceUnavailable, err)
	}

	if cfg.LazyConnect {
		return &PostgresRepository{pool: pool}, nil
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrSourceUnavailable, err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const missionColumns = `
	m.id, m.title, m.description,
	COALESCE(array_agg(ms.skill ORDER BY ms.position) FILTER (WHERE ms.skill IS NOT NULL), '{}') AS skills,
	m.experience_level, m.duration, m.location, m.price::text,
	m.work_type, m.mission_type, m.is_published, m.discord_message_id,
	m.created_at, m.published_at
`

// FetchUnpublished returns unpublished missions ordered by creation time
func (r *PostgresRepository) FetchUnpublished(ctx context.Context) ([]*models.Mission, error) {
	query := `
		SELECT ` + missionColumns + `
		FROM missions m
		LEFT JOIN mission_skills ms ON ms.mission_id = m.id
		WHERE m.is_published = FALSE
		GROUP BY m.id
		ORDER BY m.created_at ASC, m.id ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query unpublished missions: %w", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	missions, err := collectMissions(rows)
	if err != nil {
		return nil, err
	}

	slog.Debug("fetched unpublished missions from postgres", "count", len(missions))

	return missions, nil
}

// collectMissions drains rows. A scan error closes pgx rows, so it fails the
// whole read rather than a single mission.
func collectMissions(rows pgx.Rows) ([]*models.Mission, error) {
	missions := make([]*models.Mission, 0)
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan mission: %w", ErrSourceUnavailable, err)
		}
		missions = append(missions, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read missions: %w", ErrSourceUnavailable, err)
	}
	return missions, nil
}

// GetMission retrieves a mission by ID
func (r *PostgresRepository) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	query := `
		SELECT ` + missionColumns + `
		FROM missions m
		LEFT JOIN mission_skills ms ON ms.mission_id = m.id
		WHERE m.id = $1
		GROUP BY m.id
	`

	m, err := scanMission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get mission: %w", ErrSourceUnavailable, err)
	}

	return m, nil
}

// MarkPublished stores the Discord message id and flips is_published in one transaction
func (r *PostgresRepository) MarkPublished(ctx context.Context, missionID, ref string) error {
	if ref == "" {
		return models.ErrEmptyPublicationRef
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrSinkUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var published bool
	var currentRef sql.NullString
	err = tx.QueryRow(ctx,
		`SELECT is_published, discord_message_id FROM missions WHERE id = $1 FOR UPDATE`,
		missionID,
	).Scan(&published, &currentRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: failed to lock mission: %w", ErrSinkUnavailable, err)
	}

	if published {
		if currentRef.String == ref {
			return nil
		}
		return fmt.Errorf("%w: mission %s has ref %s", ErrAlreadyPublished, missionID, currentRef.String)
	}

	_, err = tx.Exec(ctx, `
		UPDATE missions
		SET is_published = TRUE, discord_message_id = $2, published_at = NOW()
		WHERE id = $1
	`, missionID, ref)
	if err != nil {
		return fmt.Errorf("%w: failed to update mission: %w", ErrSinkUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit mission update: %w", ErrSinkUnavailable, err)
	}

	return nil
}

// CreateMission inserts a mission and its ordered skills
func (r *PostgresRepository) CreateMission(ctx context.Context, m *models.Mission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var price sql.NullFloat64
	if m.Price != nil {
		price = sql.NullFloat64{Float64: *m.Price, Valid: true}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO missions (id, title, description, experience_level, duration, location, price, work_type, mission_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		m.ID,
		m.Title,
		m.Description,
		nullString(m.ExperienceLevel),
		nullString(m.Duration),
		nullString(m.Location),
		price,
		nullString(m.WorkType),
		nullString(m.MissionType),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mission: %w", err)
	}

	for i, skill := range m.Skills {
		if _, err := tx.Exec(ctx,
			`INSERT INTO mission_skills (mission_id, position, skill) VALUES ($1, $2, $3)`,
			m.ID, i, skill,
		); err != nil {
			return fmt.Errorf("failed to insert skill %q: %w", skill, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit mission: %w", err)
	}

	return nil
}

// scanMission reads one row produced by missionColumns
func scanMission(row pgx.Row) (*models.Mission, error) {
	var m models.Mission
	var title, description, experience, duration, location, price, workType, missionType, ref sql.NullString
	var publishedAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&title,
		&description,
		&m.Skills,
		&experience,
		&duration,
		&location,
		&price,
		&workType,
		&missionType,
		&m.IsPublished,
		&ref,
		&m.CreatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Title = title.String
	m.Description = description.String
	m.ExperienceLevel = experience.String
	m.Duration = duration.String
	m.Location = location.String
	m.WorkType = workType.String
	m.MissionType = missionType.String
	m.PublicationRef = ref.String

	if price.Valid {
		applyPrice(&m, price.String)
	}

	if publishedAt.Valid {
		m.PublishedAt = &publishedAt.Time
	}

	if m.Skills == nil {
		m.Skills = []string{}
	}

	return &m, nil
}

// applyPrice parses a textual price; unparsable input is kept for validation to report
func applyPrice(m *models.Mission, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		m.InvalidPrice = raw
		return
	}
	m.Price = &f
}

// Helper functions for nullable values

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
