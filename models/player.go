package models

type Player struct {
	ID         int    `json:"id" db:"id"`
	Username   string `json:"username" db:"username"`
	TeamID     int    `json:"team" db:"team_id"`
	Race       int    `json:"race" db:"race"`
	League     int    `json:"league" db:"league"`
	MMR        int    `json:"mmr" db:"mmr"`
	Wins       int    `json:"wins" db:"wins"`
	TotalGames int    `json:"total_games" db:"total_games"`
}

// PlayerRef is the compact form of a player embedded in match snapshots.
type PlayerRef struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	TeamID   int    `json:"team"`
}

func (p *Player) Ref() *PlayerRef {
	if p == nil {
		return nil
	}
	return &PlayerRef{ID: p.ID, Username: p.Username, TeamID: p.TeamID}
}
