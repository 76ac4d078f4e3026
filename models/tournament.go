package models

import (
	"errors"
	"time"
)

var ErrTournamentSameTeams = errors.New("team_one and team_two must be different teams")

// FinishRequest is the pending two-sided finish confirmation of a tournament.
// The zero value means no request is pending.
type FinishRequest struct {
	askedTeamID int
}

func FinishRequestedBy(teamID int) FinishRequest {
	return FinishRequest{askedTeamID: teamID}
}

// PendingBy returns the team that asked to finish, if any.
func (f FinishRequest) PendingBy() (int, bool) {
	return f.askedTeamID, f.askedTeamID != 0
}

func (f FinishRequest) IsPending() bool {
	return f.askedTeamID != 0
}

// TimeSuggestion is an alternate start time proposed by one side and
// waiting for the other side to accept.
type TimeSuggestion struct {
	Time   time.Time `json:"time"`
	ByTeam int       `json:"by_team"`
}

type Tournament struct {
	ID                    int             `json:"id" db:"id"`
	SeasonID              int             `json:"season" db:"season_id"`
	TeamOneID             *int            `json:"team_one" db:"team_one_id"`
	TeamTwoID             *int            `json:"team_two" db:"team_two_id"`
	MatchStartTime        time.Time       `json:"match_start_time" db:"match_start_time"`
	Stage                 int             `json:"stage" db:"stage"`
	InlineNumber          *int            `json:"inline_number" db:"inline_number"`
	GroupID               *int            `json:"group" db:"group_id"`
	TeamOneWins           int             `json:"team_one_wins" db:"team_one_wins"`
	TeamTwoWins           int             `json:"team_two_wins" db:"team_two_wins"`
	WinnerID              *int            `json:"winner" db:"winner_id"`
	IsFinished            bool            `json:"is_finished" db:"is_finished"`
	Finish                FinishRequest   `json:"-" db:"-"`
	Suggestion            *TimeSuggestion `json:"suggestion,omitempty" db:"-"`
	NextStageTournamentID *int            `json:"next_stage_tournament" db:"next_stage_tournament_id"`
}

func (t *Tournament) Validate() error {
	if t.TeamOneID != nil && t.TeamTwoID != nil && *t.TeamOneID == *t.TeamTwoID {
		return ErrTournamentSameTeams
	}
	return nil
}

// IsKnockout reports whether the tournament belongs to the bracket phase.
func (t *Tournament) IsKnockout() bool {
	return t.GroupID == nil
}

// Side returns 1 or 2 for the slot the team occupies, 0 if it does not play.
func (t *Tournament) Side(teamID int) int {
	switch {
	case t.TeamOneID != nil && *t.TeamOneID == teamID:
		return 1
	case t.TeamTwoID != nil && *t.TeamTwoID == teamID:
		return 2
	}
	return 0
}

func (t *Tournament) HasTeam(teamID int) bool {
	return t.Side(teamID) != 0
}

// Opponent returns the other team of the pairing.
func (t *Tournament) Opponent(teamID int) *int {
	switch t.Side(teamID) {
	case 1:
		return t.TeamTwoID
	case 2:
		return t.TeamOneID
	}
	return nil
}

// AddWin moves the score of the team's side by delta.
func (t *Tournament) AddWin(teamID, delta int) bool {
	switch t.Side(teamID) {
	case 1:
		t.TeamOneWins += delta
	case 2:
		t.TeamTwoWins += delta
	default:
		return false
	}
	return true
}

// LeadingTeam returns the side with more match wins, nil on a tie.
func (t *Tournament) LeadingTeam() *int {
	switch {
	case t.TeamOneWins > t.TeamTwoWins:
		return t.TeamOneID
	case t.TeamTwoWins > t.TeamOneWins:
		return t.TeamTwoID
	}
	return nil
}
