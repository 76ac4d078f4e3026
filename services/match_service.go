package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
)

// Columns a match patch may touch.
const (
	MatchColumnWinner    = "winner"
	MatchColumnPlayerOne = "player_one"
	MatchColumnPlayerTwo = "player_two"
	MatchColumnMap       = "map"
)

type MatchService interface {
	// Patch sets one column of a match of the given tournament.
	Patch(ctx context.Context, caller models.Identity, tournamentID, matchID int, column string, value json.RawMessage) (*models.Match, error)
	// Create adds an empty match to the tournament on behalf of the caller.
	Create(ctx context.Context, caller models.Identity, tournamentID int) (*models.Match, error)
	// Delete removes a match and takes its result back. Staff only.
	Delete(ctx context.Context, caller models.Identity, tournamentID, matchID int) error
}

type matchService struct {
	store     repositories.Store
	publisher ChangePublisher
	logger    *slog.Logger
}

func NewMatchService(store repositories.Store, publisher ChangePublisher, logger *slog.Logger) MatchService {
	return &matchService{store: store, publisher: publisher, logger: logger}
}

func (s *matchService) Patch(ctx context.Context, caller models.Identity, tournamentID, matchID int, column string, value json.RawMessage) (*models.Match, error) {
	var (
		m *models.Match
		t *models.Tournament
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		var err error
		m, t, err = s.loadForWrite(ctx, r, caller, tournamentID, matchID)
		if err != nil {
			return err
		}

		switch column {
		case MatchColumnWinner:
			winner, err := decodeOptionalID(value)
			if err != nil {
				return err
			}
			return s.setWinner(ctx, r, t, m, winner)
		case MatchColumnPlayerOne, MatchColumnPlayerTwo:
			player, err := decodeOptionalID(value)
			if err != nil {
				return err
			}
			return s.setPlayer(ctx, r, t, m, column == MatchColumnPlayerOne, player)
		case MatchColumnMap:
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return fmt.Errorf("%w: map must be a string", ErrInvalidValue)
			}
			m.Map = name
			return r.Matches.Update(ctx, m)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
		}
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("match updated",
		slog.Int("match_id", m.ID), slog.Int("tournament_id", t.ID), slog.String("column", column))
	s.publisher.Publish(ctx, matchEvent(m, t))
	return m, nil
}

func (s *matchService) Create(ctx context.Context, caller models.Identity, tournamentID int) (*models.Match, error) {
	var (
		m *models.Match
		t *models.Tournament
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		var err error
		t, err = r.Tournaments.GetByID(ctx, tournamentID)
		if err != nil {
			return err
		}
		if err = authorizeParticipant(ctx, r, caller, t); err != nil {
			return err
		}
		if t.IsFinished && !caller.IsStaff {
			return ErrTournamentFinished
		}
		m = &models.Match{TournamentID: t.ID, UserID: copyInt(&caller.UserID)}
		return r.Matches.Create(ctx, m)
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("match created", slog.Int("match_id", m.ID), slog.Int("tournament_id", t.ID))
	s.publisher.Publish(ctx, matchEvent(m, t))
	return m, nil
}

func (s *matchService) Delete(ctx context.Context, caller models.Identity, tournamentID, matchID int) error {
	if !caller.IsStaff {
		return ErrForbiddenOperation
	}

	var (
		m *models.Match
		t *models.Tournament
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		var err error
		m, t, err = s.loadForWrite(ctx, r, caller, tournamentID, matchID)
		if err != nil {
			return err
		}
		if err = applyWinnerChange(ctx, r, t, m.WinnerID, nil); err != nil {
			return err
		}
		for _, id := range []*int{m.PlayerOneID, m.PlayerTwoID} {
			if err = adjustTotalGames(ctx, r, id, -1); err != nil {
				return err
			}
		}
		return r.Matches.Delete(ctx, m.ID)
	})
	if err != nil {
		return mapRepoError(err)
	}

	s.logger.Info("match deleted", slog.Int("match_id", m.ID), slog.Int("tournament_id", t.ID))
	s.publisher.Publish(ctx, matchEvent(m, t))
	return nil
}

// loadForWrite locks the tournament before reading the match, so every
// write to the matches and score of one tournament is serialized.
func (s *matchService) loadForWrite(ctx context.Context, r repositories.Repos, caller models.Identity, tournamentID, matchID int) (*models.Match, *models.Tournament, error) {
	t, err := r.Tournaments.GetByIDForUpdate(ctx, tournamentID)
	if err != nil {
		return nil, nil, err
	}
	m, err := r.Matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if m.TournamentID != t.ID {
		return nil, nil, repositories.ErrMatchNotFound
	}
	if err = authorizeParticipant(ctx, r, caller, t); err != nil {
		return nil, nil, err
	}
	if t.IsFinished && !caller.IsStaff {
		return nil, nil, ErrTournamentFinished
	}
	return m, t, nil
}

func (s *matchService) setWinner(ctx context.Context, r repositories.Repos, t *models.Tournament, m *models.Match, winner *int) error {
	previous := m.WinnerID
	if sameInt(previous, winner) {
		return nil
	}
	m.WinnerID = copyInt(winner)
	if err := m.Validate(); err != nil {
		return err
	}
	if err := applyWinnerChange(ctx, r, t, previous, winner); err != nil {
		return err
	}
	return r.Matches.Update(ctx, m)
}

// setPlayer replaces the occupant of one player slot. When the departing
// player was the recorded winner, the win moves with the slot to the new
// occupant.
func (s *matchService) setPlayer(ctx context.Context, r repositories.Repos, t *models.Tournament, m *models.Match, first bool, player *int) error {
	slot, other := &m.PlayerOneID, m.PlayerTwoID
	if !first {
		slot, other = &m.PlayerTwoID, m.PlayerOneID
	}
	previous := *slot
	if sameInt(previous, player) {
		return nil
	}

	if player != nil {
		incoming, err := r.Players.GetByID(ctx, *player)
		if err != nil {
			return err
		}
		if !t.HasTeam(incoming.TeamID) {
			return ErrPlayerNotInTournament
		}
		if other != nil {
			if *other == *player {
				return models.ErrMatchSamePlayers
			}
			opponent, err := r.Players.GetByID(ctx, *other)
			if err != nil {
				return err
			}
			if opponent.TeamID == incoming.TeamID {
				return models.ErrMatchSameTeamPlayers
			}
		}
	}

	*slot = copyInt(player)
	slotWasWinner := previous != nil && sameInt(m.WinnerID, previous)
	if slotWasWinner {
		m.WinnerID = copyInt(player)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	if err := adjustTotalGames(ctx, r, previous, -1); err != nil {
		return err
	}
	if err := adjustTotalGames(ctx, r, player, 1); err != nil {
		return err
	}
	if slotWasWinner {
		if err := applyWinnerChange(ctx, r, t, previous, player); err != nil {
			return err
		}
	}
	return r.Matches.Update(ctx, m)
}

// applyWinnerChange moves one win from the previous winner to the new one,
// both on the players and on the tournament score of their teams.
func applyWinnerChange(ctx context.Context, r repositories.Repos, t *models.Tournament, previous, winner *int) error {
	if sameInt(previous, winner) {
		return nil
	}
	for _, step := range []struct {
		playerID *int
		delta    int
	}{{previous, -1}, {winner, 1}} {
		if step.playerID == nil {
			continue
		}
		p, err := r.Players.GetByIDForUpdate(ctx, *step.playerID)
		if err != nil {
			return err
		}
		p.Wins += step.delta
		if err = r.Players.Update(ctx, p); err != nil {
			return err
		}
		t.AddWin(p.TeamID, step.delta)
	}
	return r.Tournaments.Update(ctx, t)
}

func adjustTotalGames(ctx context.Context, r repositories.Repos, playerID *int, delta int) error {
	if playerID == nil {
		return nil
	}
	p, err := r.Players.GetByIDForUpdate(ctx, *playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil
		}
		return err
	}
	p.TotalGames += delta
	return r.Players.Update(ctx, p)
}
