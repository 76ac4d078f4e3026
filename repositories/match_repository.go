package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
)

var (
	ErrMatchNotFound          = errors.New("match not found")
	ErrMatchTournamentInvalid = errors.New("match tournament conflict or invalid")
	ErrMatchPlayerInvalid     = errors.New("match player conflict or invalid")
)

type MatchRepository interface {
	GetByID(ctx context.Context, id int) (*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error)
	CountByTournament(ctx context.Context, tournamentID int) (int, error)
	Create(ctx context.Context, match *models.Match) error
	Update(ctx context.Context, match *models.Match) error
	Delete(ctx context.Context, id int) error
}

type postgresMatchRepository struct {
	exec SQLExecutor
}

func NewPostgresMatchRepository(exec SQLExecutor) MatchRepository {
	return &postgresMatchRepository{exec: exec}
}

const matchColumns = `id, tournament_id, user_id, player_one_id, player_two_id, winner_id, map`

func scanMatch(row interface{ Scan(dest ...interface{}) error }) (*models.Match, error) {
	var (
		m                         models.Match
		user, one, two, winnerCol sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.TournamentID, &user, &one, &two, &winnerCol, &m.Map); err != nil {
		return nil, err
	}
	m.UserID = nullInt(user)
	m.PlayerOneID = nullInt(one)
	m.PlayerTwoID = nullInt(two)
	m.WinnerID = nullInt(winnerCol)
	return &m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1 ORDER BY id ASC`
	rows, err := r.exec.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) CountByTournament(ctx context.Context, tournamentID int) (int, error) {
	var n int
	err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches WHERE tournament_id = $1`, tournamentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count matches for tournament %d: %w", tournamentID, err)
	}
	return n, nil
}

func (r *postgresMatchRepository) Create(ctx context.Context, m *models.Match) error {
	query := `
		INSERT INTO matches (tournament_id, user_id, player_one_id, player_two_id, winner_id, map)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.exec.QueryRowContext(ctx, query,
		m.TournamentID,
		intPtrValue(m.UserID),
		intPtrValue(m.PlayerOneID),
		intPtrValue(m.PlayerTwoID),
		intPtrValue(m.WinnerID),
		m.Map,
	).Scan(&m.ID)
	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) Update(ctx context.Context, m *models.Match) error {
	query := `
		UPDATE matches SET
			player_one_id = $1,
			player_two_id = $2,
			winner_id = $3,
			map = $4
		WHERE id = $5`

	result, err := r.exec.ExecContext(ctx, query,
		intPtrValue(m.PlayerOneID),
		intPtrValue(m.PlayerTwoID),
		intPtrValue(m.WinnerID),
		m.Map,
		m.ID,
	)
	if err != nil {
		return r.handleMatchError(err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) Delete(ctx context.Context, id int) error {
	result, err := r.exec.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Constraint {
		case "matches_tournament_id_fkey":
			return ErrMatchTournamentInvalid
		case "matches_player_one_id_fkey", "matches_player_two_id_fkey", "matches_winner_id_fkey":
			return ErrMatchPlayerInvalid
		case "matches_distinct_players":
			return models.ErrMatchSamePlayers
		case "matches_winner_is_player":
			return models.ErrMatchWinnerNotPlayer
		}
	}
	return err
}
