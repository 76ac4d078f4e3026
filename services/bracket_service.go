package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EllectronChik/server7x/brackets"
	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
)

// BracketService moves knockout winners forward. It runs inside the unit
// of work that finished the tournament.
type BracketService interface {
	Advance(ctx context.Context, r repositories.Repos, finished *models.Tournament) ([]models.ChangeEvent, error)
}

type bracketService struct {
	now    func() time.Time
	logger *slog.Logger
}

func NewBracketService(now func() time.Time, logger *slog.Logger) BracketService {
	if now == nil {
		now = time.Now
	}
	return &bracketService{now: now, logger: logger}
}

func (s *bracketService) Advance(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error) {
	if !t.IsFinished || !t.IsKnockout() || t.InlineNumber == nil || t.WinnerID == nil {
		return nil, nil
	}
	if t.Stage == brackets.GrandFinalStage {
		return s.crownSeason(ctx, r, t)
	}
	if !brackets.Advances(t.Stage) {
		return nil, nil
	}

	// Both siblings finishing at once must not create two next-stage rows.
	if err := r.Tournaments.LockBracketStage(ctx, t.SeasonID, t.Stage); err != nil {
		return nil, err
	}

	inline := *t.InlineNumber
	sibling, err := r.Tournaments.GetBracketSlot(ctx, t.SeasonID, t.Stage, brackets.Sibling(inline))
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sibling of tournament %d: %w", t.ID, err)
	}
	if !sibling.IsFinished || sibling.WinnerID == nil {
		return nil, nil
	}

	parent := brackets.Parent(inline)
	next, err := r.Tournaments.GetBracketSlot(ctx, t.SeasonID, t.Stage+1, parent)
	created := false
	switch {
	case errors.Is(err, repositories.ErrTournamentNotFound):
		next = &models.Tournament{
			SeasonID:       t.SeasonID,
			Stage:          t.Stage + 1,
			InlineNumber:   &parent,
			MatchStartTime: nextStageStart(s.now()),
		}
		created = true
	case err != nil:
		return nil, fmt.Errorf("failed to load next stage of tournament %d: %w", t.ID, err)
	}

	for _, src := range []*models.Tournament{t, sibling} {
		placeWinner(next, src)
	}
	if created {
		err = r.Tournaments.Create(ctx, next)
	} else {
		err = r.Tournaments.Update(ctx, next)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save next stage tournament: %w", err)
	}

	events := []models.ChangeEvent{tournamentEvent(next)}
	for _, src := range []*models.Tournament{t, sibling} {
		if sameInt(src.NextStageTournamentID, &next.ID) {
			continue
		}
		src.NextStageTournamentID = copyInt(&next.ID)
		if err = r.Tournaments.Update(ctx, src); err != nil {
			return nil, fmt.Errorf("failed to link tournament %d to next stage: %w", src.ID, err)
		}
		events = append(events, tournamentEvent(src))
	}

	s.logger.Info("bracket advanced",
		slog.Int("tournament_id", t.ID),
		slog.Int("sibling_id", sibling.ID),
		slog.Int("next_stage_id", next.ID),
		slog.Int("stage", next.Stage),
		slog.Bool("created", created))
	return events, nil
}

// placeWinner fills the winner of src into its slot of next unless the
// slot is already taken.
func placeWinner(next, src *models.Tournament) {
	slot := &next.TeamOneID
	if brackets.Slot(*src.InlineNumber) == 2 {
		slot = &next.TeamTwoID
	}
	if *slot == nil {
		*slot = copyInt(src.WinnerID)
	}
}

func (s *bracketService) crownSeason(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error) {
	season, err := r.Seasons.GetByID(ctx, t.SeasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load season %d: %w", t.SeasonID, err)
	}
	if sameInt(season.WinnerID, t.WinnerID) {
		return nil, nil
	}
	season.WinnerID = copyInt(t.WinnerID)
	if err = r.Seasons.Update(ctx, season); err != nil {
		return nil, fmt.Errorf("failed to set winner of season %d: %w", season.ID, err)
	}
	s.logger.Info("season winner set", slog.Int("season_id", season.ID), slog.Int("team_id", *season.WinnerID))
	return []models.ChangeEvent{seasonEvent(season)}, nil
}
