package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
)

var (
	ErrTournamentNotFound      = errors.New("tournament not found")
	ErrTournamentDuplicate     = errors.New("tournament already exists for this pairing or bracket slot")
	ErrTournamentInvalidSeason = errors.New("invalid season reference")
	ErrTournamentInvalidTeam   = errors.New("invalid team reference")
)

type TournamentRepository interface {
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	// GetByIDForUpdate reads the tournament and holds its row lock until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id int) (*models.Tournament, error)
	ListBySeason(ctx context.Context, seasonID int) ([]*models.Tournament, error)
	ListBySeasonAndTeam(ctx context.Context, seasonID, teamID int) ([]*models.Tournament, error)
	// GetBracketSlot finds the knockout tournament at the given stage and inline number.
	GetBracketSlot(ctx context.Context, seasonID, stage, inlineNumber int) (*models.Tournament, error)
	Create(ctx context.Context, tournament *models.Tournament) error
	Update(ctx context.Context, tournament *models.Tournament) error
	DeleteBySeason(ctx context.Context, seasonID int) (int, error)
	// LockBracketStage serializes bracket advancement for one stage until the
	// surrounding transaction ends.
	LockBracketStage(ctx context.Context, seasonID, stage int) error
}

type postgresTournamentRepository struct {
	exec SQLExecutor
}

func NewPostgresTournamentRepository(exec SQLExecutor) TournamentRepository {
	return &postgresTournamentRepository{exec: exec}
}

const tournamentColumns = `
	id, season_id, team_one_id, team_two_id, match_start_time, stage, inline_number, group_id,
	team_one_wins, team_two_wins, winner_id, is_finished, ask_for_finished, asked_team_id,
	suggested_start_time, suggested_by_team_id, next_stage_tournament_id`

func scanTournament(row interface{ Scan(dest ...interface{}) error }) (*models.Tournament, error) {
	var (
		t                                       models.Tournament
		teamOne, teamTwo, inline, group, winner sql.NullInt64
		askedTeam, suggestedBy, nextStage       sql.NullInt64
		askForFinished                          bool
		suggestedAt                             sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.SeasonID, &teamOne, &teamTwo, &t.MatchStartTime, &t.Stage, &inline, &group,
		&t.TeamOneWins, &t.TeamTwoWins, &winner, &t.IsFinished, &askForFinished, &askedTeam,
		&suggestedAt, &suggestedBy, &nextStage,
	)
	if err != nil {
		return nil, err
	}
	t.TeamOneID = nullInt(teamOne)
	t.TeamTwoID = nullInt(teamTwo)
	t.InlineNumber = nullInt(inline)
	t.GroupID = nullInt(group)
	t.WinnerID = nullInt(winner)
	t.NextStageTournamentID = nullInt(nextStage)
	if askForFinished && askedTeam.Valid {
		t.Finish = models.FinishRequestedBy(int(askedTeam.Int64))
	}
	if suggestedAt.Valid && suggestedBy.Valid {
		t.Suggestion = &models.TimeSuggestion{Time: suggestedAt.Time, ByTeam: int(suggestedBy.Int64)}
	}
	return &t, nil
}

// finishColumns flattens the finish request into its two storage columns.
func finishColumns(f models.FinishRequest) (bool, interface{}) {
	teamID, ok := f.PendingBy()
	if !ok {
		return false, nil
	}
	return true, teamID
}

func suggestionColumns(s *models.TimeSuggestion) (interface{}, interface{}) {
	if s == nil {
		return nil, nil
	}
	return s.Time, s.ByTeam
}

func (r *postgresTournamentRepository) queryList(ctx context.Context, query string, args ...interface{}) ([]*models.Tournament, error) {
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]*models.Tournament, 0)
	for rows.Next() {
		t, scanErr := scanTournament(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", scanErr)
		}
		tournaments = append(tournaments, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during tournament rows iteration: %w", err)
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	return r.get(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1`, id)
}

func (r *postgresTournamentRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Tournament, error) {
	return r.get(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresTournamentRepository) get(ctx context.Context, query string, id int) (*models.Tournament, error) {
	t, err := scanTournament(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) ListBySeason(ctx context.Context, seasonID int) ([]*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + `
		FROM tournaments
		WHERE season_id = $1
		ORDER BY match_start_time ASC, id ASC`
	return r.queryList(ctx, query, seasonID)
}

func (r *postgresTournamentRepository) ListBySeasonAndTeam(ctx context.Context, seasonID, teamID int) ([]*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + `
		FROM tournaments
		WHERE season_id = $1 AND (team_one_id = $2 OR team_two_id = $2)
		ORDER BY match_start_time ASC, id ASC`
	return r.queryList(ctx, query, seasonID, teamID)
}

func (r *postgresTournamentRepository) GetBracketSlot(ctx context.Context, seasonID, stage, inlineNumber int) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + `
		FROM tournaments
		WHERE season_id = $1 AND stage = $2 AND inline_number = $3 AND group_id IS NULL`
	t, err := scanTournament(r.exec.QueryRowContext(ctx, query, seasonID, stage, inlineNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan bracket slot %d/%d: %w", stage, inlineNumber, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	askForFinished, askedTeam := finishColumns(t.Finish)
	suggestedAt, suggestedBy := suggestionColumns(t.Suggestion)
	query := `
		INSERT INTO tournaments (
			season_id, team_one_id, team_two_id, match_start_time, stage, inline_number, group_id,
			team_one_wins, team_two_wins, winner_id, is_finished, ask_for_finished, asked_team_id,
			suggested_start_time, suggested_by_team_id, next_stage_tournament_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	err := r.exec.QueryRowContext(ctx, query,
		t.SeasonID, intPtrValue(t.TeamOneID), intPtrValue(t.TeamTwoID), t.MatchStartTime, t.Stage,
		intPtrValue(t.InlineNumber), intPtrValue(t.GroupID), t.TeamOneWins, t.TeamTwoWins,
		intPtrValue(t.WinnerID), t.IsFinished, askForFinished, askedTeam, suggestedAt, suggestedBy,
		intPtrValue(t.NextStageTournamentID),
	).Scan(&t.ID)
	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) Update(ctx context.Context, t *models.Tournament) error {
	askForFinished, askedTeam := finishColumns(t.Finish)
	suggestedAt, suggestedBy := suggestionColumns(t.Suggestion)
	query := `
		UPDATE tournaments SET
			team_one_id = $1,
			team_two_id = $2,
			match_start_time = $3,
			stage = $4,
			inline_number = $5,
			group_id = $6,
			team_one_wins = $7,
			team_two_wins = $8,
			winner_id = $9,
			is_finished = $10,
			ask_for_finished = $11,
			asked_team_id = $12,
			suggested_start_time = $13,
			suggested_by_team_id = $14,
			next_stage_tournament_id = $15
		WHERE id = $16`

	result, err := r.exec.ExecContext(ctx, query,
		intPtrValue(t.TeamOneID), intPtrValue(t.TeamTwoID), t.MatchStartTime, t.Stage,
		intPtrValue(t.InlineNumber), intPtrValue(t.GroupID), t.TeamOneWins, t.TeamTwoWins,
		intPtrValue(t.WinnerID), t.IsFinished, askForFinished, askedTeam, suggestedAt, suggestedBy,
		intPtrValue(t.NextStageTournamentID), t.ID,
	)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) DeleteBySeason(ctx context.Context, seasonID int) (int, error) {
	// matches go first, they reference tournaments.
	if _, err := r.exec.ExecContext(ctx,
		`DELETE FROM matches WHERE tournament_id IN (SELECT id FROM tournaments WHERE season_id = $1)`, seasonID); err != nil {
		return 0, fmt.Errorf("failed to delete matches of season %d: %w", seasonID, err)
	}
	if _, err := r.exec.ExecContext(ctx,
		`UPDATE tournaments SET next_stage_tournament_id = NULL WHERE season_id = $1`, seasonID); err != nil {
		return 0, fmt.Errorf("failed to unlink tournaments of season %d: %w", seasonID, err)
	}
	result, err := r.exec.ExecContext(ctx, `DELETE FROM tournaments WHERE season_id = $1`, seasonID)
	if err != nil {
		return 0, r.handleTournamentError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(n), nil
}

func (r *postgresTournamentRepository) LockBracketStage(ctx context.Context, seasonID, stage int) error {
	if _, err := r.exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, seasonID, stage); err != nil {
		return fmt.Errorf("failed to lock bracket stage %d of season %d: %w", stage, seasonID, err)
	}
	return nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Code {
		case pqUniqueViolation:
			switch pqErr.Constraint {
			case "tournaments_bracket_slot_key", "tournaments_group_pairing_key":
				return ErrTournamentDuplicate
			}
		case pqForeignKeyViolation:
			switch pqErr.Constraint {
			case "tournaments_season_id_fkey":
				return ErrTournamentInvalidSeason
			case "tournaments_team_one_id_fkey", "tournaments_team_two_id_fkey", "tournaments_winner_id_fkey":
				return ErrTournamentInvalidTeam
			}
		case pqCheckViolation:
			if pqErr.Constraint == "tournaments_distinct_teams" {
				return models.ErrTournamentSameTeams
			}
		}
	}
	return err
}
