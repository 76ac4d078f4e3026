package models

// Identity is the caller resolved from a credential.
type Identity struct {
	UserID  int  `json:"user_id"`
	IsStaff bool `json:"is_staff"`
}

// Anonymous reports whether the identity was not resolved from a credential.
func (i Identity) Anonymous() bool {
	return i.UserID == 0
}
