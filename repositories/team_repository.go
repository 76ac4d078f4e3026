package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
)

var ErrTeamNotFound = errors.New("team not found")

type TeamRepository interface {
	GetByID(ctx context.Context, id int) (*models.Team, error)
	GetByOwner(ctx context.Context, userID int) (*models.Team, error)
	List(ctx context.Context) ([]*models.Team, error)
}

type postgresTeamRepository struct {
	exec SQLExecutor
}

func NewPostgresTeamRepository(exec SQLExecutor) TeamRepository {
	return &postgresTeamRepository{exec: exec}
}

const teamColumns = `id, name, tag, region_id, user_id`

func scanTeam(row interface{ Scan(dest ...interface{}) error }) (*models.Team, error) {
	var (
		t       models.Team
		region  sql.NullInt64
		ownerID sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Tag, &region, &ownerID); err != nil {
		return nil, err
	}
	t.RegionID = nullInt(region)
	t.OwnerID = nullInt(ownerID)
	return &t, nil
}

func (r *postgresTeamRepository) GetByID(ctx context.Context, id int) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	t, err := scanTeam(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to scan team %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTeamRepository) GetByOwner(ctx context.Context, userID int) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE user_id = $1 ORDER BY id LIMIT 1`
	t, err := scanTeam(r.exec.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to scan team of user %d: %w", userID, err)
	}
	return t, nil
}

func (r *postgresTeamRepository) List(ctx context.Context) ([]*models.Team, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	teams := make([]*models.Team, 0)
	for rows.Next() {
		t, scanErr := scanTeam(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan team row: %w", scanErr)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}
