package docstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
	"github.com/mcdev12/teamclicker/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the LISTEN/NOTIFY channel the schema triggers publish on.
// Payloads are "scores:<team>" or "users:<username_team>".
const NotifyChannel = "clicker_changes"

//go:embed schema.sql
var schemaSQL string

const userColumns = `username, team, total_clicks, last_clicked, recent_clicks, last_series_timestamp, auto_clickers_count`

// PostgresStore implements Repository on Postgres. Change notifications come
// from table triggers, not from this type.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates tables, indexes and notify triggers if missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("document schema applied")
	return nil
}

func (s *PostgresStore) RecordClick(ctx context.Context, click models.Click) error {
	if !click.Team.Valid() {
		return fmt.Errorf("record click: %w", models.ErrInvalidTeam)
	}
	id := models.NewUserID(click.Username, click.Team)

	err := sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO scores (team, total) VALUES ($1, 1)
			ON CONFLICT (team) DO UPDATE SET total = scores.total + 1`,
			click.Team,
		); err != nil {
			return fmt.Errorf("increment team total: %w", err)
		}

		prev, err := lockUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if prev == nil {
			first := scoring.ApplyClick(nil, click.Username, click.Team, click.At)
			tag, err := tx.Exec(ctx, `
				INSERT INTO users (id, `+userColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO NOTHING`,
				id, first.Username, first.Team, first.TotalClicks, first.LastClicked,
				first.RecentClicks, first.LastSeriesTimestamp, first.AutoClickersCount,
			)
			if err != nil {
				return fmt.Errorf("create user record: %w", err)
			}
			if tag.RowsAffected() == 1 {
				return appendInteraction(ctx, tx, click)
			}
			// Lost a race with a concurrent first click; apply on top of it.
			if prev, err = lockUser(ctx, tx, id); err != nil {
				return err
			}
		}

		next := scoring.ApplyClick(prev, click.Username, click.Team, click.At)
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET total_clicks = $2, last_clicked = $3, recent_clicks = $4, last_series_timestamp = $5
			WHERE id = $1`,
			id, next.TotalClicks, next.LastClicked, next.RecentClicks, next.LastSeriesTimestamp,
		); err != nil {
			return fmt.Errorf("update user record: %w", err)
		}
		return appendInteraction(ctx, tx, click)
	})
	if err != nil {
		return fmt.Errorf("failed to record click for %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET auto_clickers_count = auto_clickers_count + 1, total_clicks = total_clicks - $2
		WHERE id = $1 AND total_clicks >= $2 AND auto_clickers_count = $3`,
		id, price, expectedOwned,
	)
	if err != nil {
		return fmt.Errorf("failed to purchase upgrade for %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("purchase upgrade for %s: %w", id, ErrPurchaseRejected)
}

func (s *PostgresStore) GetTeamScore(ctx context.Context, team models.Team) (models.TeamScore, error) {
	if !team.Valid() {
		return models.TeamScore{}, fmt.Errorf("get team score: %w", models.ErrInvalidTeam)
	}

	var total int64
	err := s.pool.QueryRow(ctx, `SELECT total FROM scores WHERE team = $1`, team).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.pool.Exec(ctx, `INSERT INTO scores (team, total) VALUES ($1, 0) ON CONFLICT (team) DO NOTHING`, team); err != nil {
			return models.TeamScore{}, fmt.Errorf("failed to create team score: %w", err)
		}
		return models.TeamScore{Team: team}, nil
	}
	if err != nil {
		return models.TeamScore{}, fmt.Errorf("failed to get team score: %w", err)
	}
	return models.TeamScore{Team: team, Total: total}, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id models.UserID) (models.UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserRecord{}, fmt.Errorf("get user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("failed to get user: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) RecentUsers(ctx context.Context, limit int) ([]models.UserRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		ORDER BY last_clicked DESC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent users: %w", err)
	}
	defer rows.Close()

	var out []models.UserRecord
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent users: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Interactions(ctx context.Context, limit int) ([]models.InteractionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, team, clicks, timestamp FROM interactions
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []models.InteractionLogEntry
	for rows.Next() {
		var (
			e    models.InteractionLogEntry
			team string
		)
		if err := rows.Scan(&e.ID, &e.Username, &team, &e.Clicks, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		e.Team = models.Team(team)
		out = append(out, e)
	}
	return out, rows.Err()
}

func lockUser(ctx context.Context, tx pgx.Tx, id models.UserID) (*models.UserRecord, error) {
	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	rec, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock user record: %w", err)
	}
	return &rec, nil
}

func appendInteraction(ctx context.Context, tx pgx.Tx, click models.Click) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO interactions (id, username, team, clicks, timestamp)
		VALUES ($1, $2, $3, 1, $4)`,
		uuid.New(), click.Username, click.Team, click.At,
	)
	if err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (models.UserRecord, error) {
	var (
		rec  models.UserRecord
		team string
	)
	err := row.Scan(&rec.Username, &team, &rec.TotalClicks, &rec.LastClicked,
		&rec.RecentClicks, &rec.LastSeriesTimestamp, &rec.AutoClickersCount)
	rec.Team = models.Team(team)
	return rec, err
}
