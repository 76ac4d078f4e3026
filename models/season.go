package models

import "time"

type Season struct {
	ID            int       `json:"id" db:"id"`
	Number        int       `json:"number" db:"number"`
	StartDatetime time.Time `json:"start_datetime" db:"start_datetime"`
	IsFinished    bool      `json:"is_finished" db:"is_finished"`
	CanRegister   bool      `json:"can_register" db:"can_register"`
	WinnerID      *int      `json:"winner" db:"winner_id"`
}

type GroupStage struct {
	ID        int    `json:"id" db:"id"`
	GroupMark string `json:"groupMark" db:"group_mark"`
	SeasonID  int    `json:"season" db:"season_id"`
	TeamIDs   []int  `json:"teams" db:"-"`
}
