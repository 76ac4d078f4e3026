package brackets

import (
	"sort"

	"github.com/EllectronChik/server7x/models"
)

// GroupStandings tallies group-stage wins per team from the winners of the
// season's group tournaments. Every member of a group is listed, teams
// without wins included. Teams are ordered by wins, then by name.
func GroupStandings(groups []*models.GroupStage, tournaments []*models.Tournament, teams map[int]*models.Team) []models.GroupStanding {
	wins := make(map[int]int)
	for _, t := range tournaments {
		if t.IsKnockout() || t.WinnerID == nil {
			continue
		}
		wins[*t.WinnerID]++
	}

	out := make([]models.GroupStanding, 0, len(groups))
	for _, g := range groups {
		standing := models.GroupStanding{GroupMark: g.GroupMark, Teams: make([]models.TeamStanding, 0, len(g.TeamIDs))}
		for _, id := range g.TeamIDs {
			ref := models.TeamRef{ID: id}
			if team, ok := teams[id]; ok {
				ref = *team.Ref()
			}
			standing.Teams = append(standing.Teams, models.TeamStanding{Team: ref, Wins: wins[id]})
		}
		sort.SliceStable(standing.Teams, func(i, j int) bool {
			a, b := standing.Teams[i], standing.Teams[j]
			if a.Wins != b.Wins {
				return a.Wins > b.Wins
			}
			return a.Team.Name < b.Team.Name
		})
		out = append(out, standing)
	}
	return out
}
