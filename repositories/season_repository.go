package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
)

var (
	ErrSeasonNotFound = errors.New("season not found")
	ErrNoActiveSeason = errors.New("no active season")
	ErrSeasonConflict = errors.New("another season is already active")
)

type SeasonRepository interface {
	// GetActive returns the single season that is not finished yet.
	GetActive(ctx context.Context) (*models.Season, error)
	GetByID(ctx context.Context, id int) (*models.Season, error)
	// ListFinished returns up to limit finished seasons, latest first.
	ListFinished(ctx context.Context, limit int) ([]*models.Season, error)
	Update(ctx context.Context, season *models.Season) error
}

type postgresSeasonRepository struct {
	exec SQLExecutor
}

func NewPostgresSeasonRepository(exec SQLExecutor) SeasonRepository {
	return &postgresSeasonRepository{exec: exec}
}

const seasonColumns = `id, number, start_datetime, is_finished, can_register, winner_id`

func scanSeason(row interface{ Scan(dest ...interface{}) error }) (*models.Season, error) {
	var (
		s      models.Season
		winner sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Number, &s.StartDatetime, &s.IsFinished, &s.CanRegister, &winner); err != nil {
		return nil, err
	}
	s.WinnerID = nullInt(winner)
	return &s, nil
}

func (r *postgresSeasonRepository) GetActive(ctx context.Context) (*models.Season, error) {
	query := `SELECT ` + seasonColumns + ` FROM seasons WHERE is_finished = FALSE ORDER BY number DESC LIMIT 1`
	s, err := scanSeason(r.exec.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveSeason
		}
		return nil, fmt.Errorf("failed to scan active season: %w", err)
	}
	return s, nil
}

func (r *postgresSeasonRepository) GetByID(ctx context.Context, id int) (*models.Season, error) {
	query := `SELECT ` + seasonColumns + ` FROM seasons WHERE id = $1`
	s, err := scanSeason(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeasonNotFound
		}
		return nil, fmt.Errorf("failed to scan season %d: %w", id, err)
	}
	return s, nil
}

func (r *postgresSeasonRepository) ListFinished(ctx context.Context, limit int) ([]*models.Season, error) {
	query := `SELECT ` + seasonColumns + ` FROM seasons WHERE is_finished = TRUE ORDER BY number DESC LIMIT $1`
	rows, err := r.exec.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query finished seasons: %w", err)
	}
	defer rows.Close()

	seasons := make([]*models.Season, 0, limit)
	for rows.Next() {
		s, scanErr := scanSeason(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan season row: %w", scanErr)
		}
		seasons = append(seasons, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during season rows iteration: %w", err)
	}
	return seasons, nil
}

func (r *postgresSeasonRepository) Update(ctx context.Context, s *models.Season) error {
	query := `
		UPDATE seasons SET
			number = $1,
			start_datetime = $2,
			is_finished = $3,
			can_register = $4,
			winner_id = $5
		WHERE id = $6`

	result, err := r.exec.ExecContext(ctx, query,
		s.Number, s.StartDatetime, s.IsFinished, s.CanRegister, intPtrValue(s.WinnerID), s.ID,
	)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation && pqErr.Constraint == "seasons_single_active_key" {
			return ErrSeasonConflict
		}
		return fmt.Errorf("failed to update season %d: %w", s.ID, err)
	}
	return checkAffectedRows(result, ErrSeasonNotFound)
}
