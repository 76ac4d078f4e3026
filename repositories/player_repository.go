package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
	"github.com/lib/pq"
)

var ErrPlayerNotFound = errors.New("player not found")

type PlayerRepository interface {
	GetByID(ctx context.Context, id int) (*models.Player, error)
	// GetByIDForUpdate reads the player and holds its row lock until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id int) (*models.Player, error)
	Update(ctx context.Context, player *models.Player) error
	// CountByLeague returns the number of players per requested league.
	CountByLeague(ctx context.Context, leagues []int) (map[int]int, error)
}

type postgresPlayerRepository struct {
	exec SQLExecutor
}

func NewPostgresPlayerRepository(exec SQLExecutor) PlayerRepository {
	return &postgresPlayerRepository{exec: exec}
}

const playerByIDQuery = `
	SELECT id, username, team_id, race, league, mmr, wins, total_games
	FROM players
	WHERE id = $1`

func (r *postgresPlayerRepository) GetByID(ctx context.Context, id int) (*models.Player, error) {
	return r.get(ctx, playerByIDQuery, id)
}

func (r *postgresPlayerRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Player, error) {
	return r.get(ctx, playerByIDQuery+` FOR UPDATE`, id)
}

func (r *postgresPlayerRepository) get(ctx context.Context, query string, id int) (*models.Player, error) {
	p := &models.Player{}
	err := r.exec.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Username, &p.TeamID, &p.Race, &p.League, &p.MMR, &p.Wins, &p.TotalGames,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to scan player %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresPlayerRepository) Update(ctx context.Context, p *models.Player) error {
	query := `
		UPDATE players SET
			username = $1,
			team_id = $2,
			race = $3,
			league = $4,
			mmr = $5,
			wins = $6,
			total_games = $7
		WHERE id = $8`

	result, err := r.exec.ExecContext(ctx, query,
		p.Username, p.TeamID, p.Race, p.League, p.MMR, p.Wins, p.TotalGames, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update player %d: %w", p.ID, err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) CountByLeague(ctx context.Context, leagues []int) (map[int]int, error) {
	counts := make(map[int]int, len(leagues))
	for _, l := range leagues {
		counts[l] = 0
	}
	if len(leagues) == 0 {
		return counts, nil
	}

	query := `SELECT league, COUNT(*) FROM players WHERE league = ANY($1) GROUP BY league`
	rows, err := r.exec.QueryContext(ctx, query, pq.Array(leagues))
	if err != nil {
		return nil, fmt.Errorf("failed to count players by league: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var league, n int
		if err := rows.Scan(&league, &n); err != nil {
			return nil, fmt.Errorf("failed to scan league count: %w", err)
		}
		counts[league] = n
	}
	return counts, rows.Err()
}
