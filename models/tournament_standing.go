package models

// TeamStanding is a team's win tally inside one round-robin group.
type TeamStanding struct {
	Team TeamRef `json:"team"`
	Wins int     `json:"wins"`
}

type GroupStanding struct {
	GroupMark string         `json:"group"`
	Teams     []TeamStanding `json:"teams"`
}

// PlayoffPairing is one knockout tournament rendered for the bracket tree.
type PlayoffPairing struct {
	TournamentID int      `json:"id"`
	InlineNumber int      `json:"inline_number"`
	TeamOne      *TeamRef `json:"team_one"`
	TeamTwo      *TeamRef `json:"team_two"`
	TeamOneWins  int      `json:"team_one_wins"`
	TeamTwoWins  int      `json:"team_two_wins"`
	Winner       *TeamRef `json:"winner"`
}

type PlayoffStage struct {
	Stage      int              `json:"stage"`
	GrandFinal bool             `json:"grand_final"`
	Pairings   []PlayoffPairing `json:"pairings"`
}

type GroupStandings struct {
	Season *Season         `json:"season"`
	Groups []GroupStanding `json:"groups"`
}
