package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
)

// --- Общие хелперы ---

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// decodeOptionalID reads a nullable id. Numbers and numeric strings are
// accepted; null and "" clear the value.
func decodeOptionalID(raw json.RawMessage) (*int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n <= 0 {
			return nil, fmt.Errorf("%w: id must be positive", ErrInvalidValue)
		}
		return &n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: expected id, got %s", ErrInvalidValue, raw)
	}
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: expected id, got %q", ErrInvalidValue, s)
	}
	return &n, nil
}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: expected RFC 3339 time", ErrInvalidValue)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return t.UTC(), nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, perr := strconv.ParseBool(s); perr == nil {
			return v, nil
		}
	}
	return false, fmt.Errorf("%w: expected boolean, got %s", ErrInvalidValue, raw)
}

// managedTeam returns the team the caller manages.
func managedTeam(ctx context.Context, r repositories.Repos, caller models.Identity) (*models.Team, error) {
	if caller.Anonymous() {
		return nil, ErrNoTeam
	}
	team, err := r.Teams.GetByOwner(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrNoTeam
		}
		return nil, fmt.Errorf("failed to load team of user %d: %w", caller.UserID, err)
	}
	return team, nil
}

// authorizeParticipant lets staff through and otherwise requires the caller
// to manage one of the two teams of t.
func authorizeParticipant(ctx context.Context, r repositories.Repos, caller models.Identity, t *models.Tournament) error {
	if caller.IsStaff {
		return nil
	}
	team, err := managedTeam(ctx, r, caller)
	if err != nil {
		if errors.Is(err, ErrNoTeam) {
			return ErrNotParticipant
		}
		return err
	}
	if !t.HasTeam(team.ID) {
		return ErrNotParticipant
	}
	return nil
}

// nextStageStart is the default start of a tournament created by bracket
// advancement: the day after now, 18:00 UTC.
func nextStageStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 18, 0, 0, 0, time.UTC)
}
