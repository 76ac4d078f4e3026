package brackets

import (
	"sort"

	"github.com/EllectronChik/server7x/models"
)

// PlayoffTree groups the knockout tournaments of a season by stage, stages
// ascending with the grand final last, pairings ordered by inline number.
// Tournaments without an inline number are not part of the tree.
func PlayoffTree(tournaments []*models.Tournament, teams map[int]*models.Team) []models.PlayoffStage {
	byStage := make(map[int][]models.PlayoffPairing)
	for _, t := range tournaments {
		if !t.IsKnockout() || t.InlineNumber == nil {
			continue
		}
		byStage[t.Stage] = append(byStage[t.Stage], models.PlayoffPairing{
			TournamentID: t.ID,
			InlineNumber: *t.InlineNumber,
			TeamOne:      TeamRef(teams, t.TeamOneID),
			TeamTwo:      TeamRef(teams, t.TeamTwoID),
			TeamOneWins:  t.TeamOneWins,
			TeamTwoWins:  t.TeamTwoWins,
			Winner:       TeamRef(teams, t.WinnerID),
		})
	}

	stages := make([]int, 0, len(byStage))
	for s := range byStage {
		stages = append(stages, s)
	}
	// GrandFinalStage is the largest stage number, so plain ordering puts it last.
	sort.Ints(stages)

	out := make([]models.PlayoffStage, 0, len(stages))
	for _, s := range stages {
		pairings := byStage[s]
		sort.Slice(pairings, func(i, j int) bool { return pairings[i].InlineNumber < pairings[j].InlineNumber })
		out = append(out, models.PlayoffStage{Stage: s, GrandFinal: s == GrandFinalStage, Pairings: pairings})
	}
	return out
}

// TeamRef resolves a team id against the index. Unknown ids keep only the id.
func TeamRef(teams map[int]*models.Team, id *int) *models.TeamRef {
	if id == nil {
		return nil
	}
	if team, ok := teams[*id]; ok {
		return team.Ref()
	}
	return &models.TeamRef{ID: *id}
}
