package repositories

import (
	"context"
	"fmt"

	"github.com/EllectronChik/server7x/models"
)

type GroupStageRepository interface {
	// ListBySeason returns the groups of a season with their member teams,
	// ordered by group mark.
	ListBySeason(ctx context.Context, seasonID int) ([]*models.GroupStage, error)
}

type postgresGroupStageRepository struct {
	exec SQLExecutor
}

func NewPostgresGroupStageRepository(exec SQLExecutor) GroupStageRepository {
	return &postgresGroupStageRepository{exec: exec}
}

func (r *postgresGroupStageRepository) ListBySeason(ctx context.Context, seasonID int) ([]*models.GroupStage, error) {
	query := `
		SELECT g.id, g.group_mark, g.season_id, gt.team_id
		FROM group_stages g
		LEFT JOIN group_stage_teams gt ON gt.group_id = g.id
		WHERE g.season_id = $1
		ORDER BY g.group_mark ASC, g.id ASC, gt.team_id ASC`

	rows, err := r.exec.QueryContext(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups for season %d: %w", seasonID, err)
	}
	defer rows.Close()

	groups := make([]*models.GroupStage, 0)
	byID := make(map[int]*models.GroupStage)
	for rows.Next() {
		var (
			g      models.GroupStage
			teamID *int
		)
		if err = rows.Scan(&g.ID, &g.GroupMark, &g.SeasonID, &teamID); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		existing, ok := byID[g.ID]
		if !ok {
			existing = &models.GroupStage{ID: g.ID, GroupMark: g.GroupMark, SeasonID: g.SeasonID, TeamIDs: []int{}}
			byID[g.ID] = existing
			groups = append(groups, existing)
		}
		if teamID != nil {
			existing.TeamIDs = append(existing.TeamIDs, *teamID)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during group rows iteration: %w", err)
	}
	return groups, nil
}
