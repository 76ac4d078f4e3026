package models

type EntityKind string

const (
	EntityMatch      EntityKind = "match"
	EntityTournament EntityKind = "tournament"
	EntitySeason     EntityKind = "season"
)

// ChangeEvent describes a committed write to the entity store.
type ChangeEvent struct {
	Entity       EntityKind `json:"entity"`
	ID           int        `json:"id"`
	TournamentID int        `json:"tournament_id,omitempty"`
	SeasonID     int        `json:"season_id,omitempty"`
	TeamIDs      []int      `json:"team_ids,omitempty"`
}

// Touches reports whether the event refers to the given team.
func (e ChangeEvent) Touches(teamID int) bool {
	for _, id := range e.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}
