package models

import "time"

type SeasonPhase string

const (
	PhaseNoSeason     SeasonPhase = "no_season"
	PhaseScheduled    SeasonPhase = "scheduled"
	PhaseRegistration SeasonPhase = "registration"
	PhaseStarted      SeasonPhase = "started"
)

type SeasonSummary struct {
	Number        int       `json:"number"`
	StartDatetime time.Time `json:"start_datetime"`
	Winner        *TeamRef  `json:"winner"`
}

type InfoStats struct {
	LeaguePlayers   map[int]int     `json:"league_players"`
	PreviousSeasons []SeasonSummary `json:"previous_seasons"`
}

// PublicInfo is the anonymous information feed.
type PublicInfo struct {
	Phase    SeasonPhase     `json:"phase"`
	Season   *Season         `json:"season"`
	Groups   []GroupStanding `json:"groups,omitempty"`
	Playoffs []PlayoffStage  `json:"playoffs,omitempty"`
	Stats    InfoStats       `json:"stats"`
}
