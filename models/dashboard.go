package models

import "time"

// AdminTournamentView is one row of the staff dashboard.
type AdminTournamentView struct {
	ID              int       `json:"id"`
	TeamOne         *TeamRef  `json:"team_one"`
	TeamTwo         *TeamRef  `json:"team_two"`
	TeamOneWins     int       `json:"team_one_wins"`
	TeamTwoWins     int       `json:"team_two_wins"`
	MatchStartTime  time.Time `json:"match_start_time"`
	Stage           int       `json:"stage"`
	InlineNumber    *int      `json:"inline_number"`
	Group           *string   `json:"group"`
	IsFinished      bool      `json:"is_finished"`
	Winner          *TeamRef  `json:"winner"`
	AskForFinished  bool      `json:"ask_for_finished"`
	AskedTeam       *int      `json:"asked_team"`
	MatchesExist    bool      `json:"matches_exist"`
	NextStageTarget *int      `json:"next_stage_tournament"`
}

type AdminDashboard struct {
	Season      *Season               `json:"season"`
	Tournaments []AdminTournamentView `json:"tournaments"`
}

// ManagerTournamentView is a tournament seen from one team manager's side.
type ManagerTournamentView struct {
	ID                    int          `json:"id"`
	Opponent              *TeamRef     `json:"opponent"`
	MatchStartTime        time.Time    `json:"match_start_time"`
	Stage                 int          `json:"stage"`
	InlineNumber          *int         `json:"inline_number"`
	IsGroup               bool         `json:"is_group"`
	IsFinished            bool         `json:"is_finished"`
	TeamWins              *int         `json:"team_wins,omitempty"`
	OpponentWins          *int         `json:"opponent_wins,omitempty"`
	Matches               []*MatchView `json:"matches,omitempty"`
	AskedForFinish        bool         `json:"asked_for_finish"`
	OpponentAskedToFinish bool         `json:"opponent_asked_for_finish"`
	SuggestedTime         *time.Time   `json:"suggested_time"`
	AwaitingOpponent      bool         `json:"suggestion_awaits_opponent"`
	CanAcceptSuggestion   bool         `json:"can_accept_suggestion"`
}

type ManagerStatus struct {
	Team        *TeamRef                `json:"team"`
	Tournaments []ManagerTournamentView `json:"tournaments"`
}
