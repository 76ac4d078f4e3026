package models

import "errors"

var (
	ErrMatchSamePlayers     = errors.New("player_one and player_two must be different players")
	ErrMatchSameTeamPlayers = errors.New("player_one and player_two must belong to different teams")
	ErrMatchWinnerNotPlayer = errors.New("match winner must be one of the match players")
)

type Match struct {
	ID           int    `json:"id" db:"id"`
	TournamentID int    `json:"tournament" db:"tournament_id"`
	UserID       *int   `json:"user,omitempty" db:"user_id"`
	PlayerOneID  *int   `json:"player_one" db:"player_one_id"`
	PlayerTwoID  *int   `json:"player_two" db:"player_two_id"`
	WinnerID     *int   `json:"winner" db:"winner_id"`
	Map          string `json:"map" db:"map"`
}

// Validate checks the invariants that do not need player rows.
func (m *Match) Validate() error {
	if m.PlayerOneID != nil && m.PlayerTwoID != nil && *m.PlayerOneID == *m.PlayerTwoID {
		return ErrMatchSamePlayers
	}
	if m.WinnerID != nil && !m.HasPlayer(*m.WinnerID) {
		return ErrMatchWinnerNotPlayer
	}
	return nil
}

func (m *Match) HasPlayer(playerID int) bool {
	return (m.PlayerOneID != nil && *m.PlayerOneID == playerID) ||
		(m.PlayerTwoID != nil && *m.PlayerTwoID == playerID)
}

// MatchView is a match as pushed to the match list topic.
type MatchView struct {
	ID           int        `json:"id"`
	TournamentID int        `json:"tournament"`
	PlayerOne    *PlayerRef `json:"player_one"`
	PlayerTwo    *PlayerRef `json:"player_two"`
	WinnerID     *int       `json:"winner"`
	Map          string     `json:"map"`
}
