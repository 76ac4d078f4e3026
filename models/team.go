package models

type Team struct {
	ID       int    `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Tag      string `json:"tag" db:"tag"`
	RegionID *int   `json:"region_id,omitempty" db:"region_id"`
	OwnerID  *int   `json:"user_id,omitempty" db:"user_id"`
}

// TeamRef is the compact form of a team embedded in snapshots.
type TeamRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag,omitempty"`
}

func (t *Team) Ref() *TeamRef {
	if t == nil {
		return nil
	}
	return &TeamRef{ID: t.ID, Name: t.Name, Tag: t.Tag}
}
