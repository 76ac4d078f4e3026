package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/EllectronChik/server7x/brackets"
	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
)

// Columns a team manager may update.
const (
	TournamentColumnAskForFinished = "ask_for_finished"
	TournamentColumnSuggestedTime  = "suggested_time"
	TournamentColumnAcceptTime     = "accept_time"
)

// Columns staff may update.
const (
	TournamentColumnIsFinished     = "is_finished"
	TournamentColumnMatchStartTime = "match_start_time"
)

// Kinds accepted by Create.
const (
	CreateKindTournament = "tournament"
	CreateKindPlayoffs   = "playoffs"
	CreateKindGroups     = "groups"
)

// CreateRequest is an administrative request to create tournaments in the
// active season.
type CreateRequest struct {
	Kind           string     `json:"kind"`
	TeamOne        *int       `json:"team_one"`
	TeamTwo        *int       `json:"team_two"`
	Stage          int        `json:"stage"`
	InlineNumber   *int       `json:"inline_number"`
	Group          *int       `json:"group"`
	Teams          []int      `json:"teams"`
	MatchStartTime *time.Time `json:"match_start_time"`
}

type TournamentService interface {
	// UpdateAsManager applies a team manager's action to a tournament of
	// their team.
	UpdateAsManager(ctx context.Context, caller models.Identity, tournamentID int, column string, value json.RawMessage) (*models.Tournament, error)
	// UpdateAsAdmin applies a staff action to any tournament.
	UpdateAsAdmin(ctx context.Context, caller models.Identity, tournamentID int, column string, value json.RawMessage) (*models.Tournament, error)

	RequestFinish(ctx context.Context, caller models.Identity, tournamentID int) (*models.Tournament, error)
	WithdrawFinish(ctx context.Context, caller models.Identity, tournamentID int) (*models.Tournament, error)
	SuggestTime(ctx context.Context, caller models.Identity, tournamentID int, at time.Time) (*models.Tournament, error)
	AcceptTime(ctx context.Context, caller models.Identity, tournamentID int) (*models.Tournament, error)
	SetFinished(ctx context.Context, caller models.Identity, tournamentID int, finished bool) (*models.Tournament, error)
	SetStartTime(ctx context.Context, caller models.Identity, tournamentID int, at time.Time) (*models.Tournament, error)

	Create(ctx context.Context, caller models.Identity, req CreateRequest) ([]*models.Tournament, error)
	// DeleteSeasonTournaments removes every tournament of the active season
	// together with its matches.
	DeleteSeasonTournaments(ctx context.Context, caller models.Identity) (int, error)
}

type tournamentService struct {
	store     repositories.Store
	brackets  BracketService
	publisher ChangePublisher
	now       func() time.Time
	logger    *slog.Logger
}

func NewTournamentService(
	store repositories.Store,
	bracketService BracketService,
	publisher ChangePublisher,
	now func() time.Time,
	logger *slog.Logger,
) TournamentService {
	if now == nil {
		now = time.Now
	}
	return &tournamentService{
		store:     store,
		brackets:  bracketService,
		publisher: publisher,
		now:       now,
		logger:    logger,
	}
}

func (s *tournamentService) UpdateAsManager(ctx context.Context, caller models.Identity, tournamentID int, column string, value json.RawMessage) (*models.Tournament, error) {
	switch column {
	case TournamentColumnAskForFinished:
		ask := true
		if len(value) > 0 {
			var err error
			if ask, err = decodeBool(value); err != nil {
				return nil, err
			}
		}
		if !ask {
			return s.WithdrawFinish(ctx, caller, tournamentID)
		}
		return s.RequestFinish(ctx, caller, tournamentID)
	case TournamentColumnSuggestedTime:
		at, err := decodeTime(value)
		if err != nil {
			return nil, err
		}
		return s.SuggestTime(ctx, caller, tournamentID, at)
	case TournamentColumnAcceptTime:
		return s.AcceptTime(ctx, caller, tournamentID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
}

func (s *tournamentService) UpdateAsAdmin(ctx context.Context, caller models.Identity, tournamentID int, column string, value json.RawMessage) (*models.Tournament, error) {
	switch column {
	case TournamentColumnIsFinished:
		finished, err := decodeBool(value)
		if err != nil {
			return nil, err
		}
		return s.SetFinished(ctx, caller, tournamentID, finished)
	case TournamentColumnMatchStartTime:
		at, err := decodeTime(value)
		if err != nil {
			return nil, err
		}
		return s.SetStartTime(ctx, caller, tournamentID, at)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
}

// managerAction loads the tournament and the caller's team for a team
// manager action, runs fn and publishes what fn reports.
func (s *tournamentService) managerAction(
	ctx context.Context,
	caller models.Identity,
	tournamentID int,
	fn func(ctx context.Context, r repositories.Repos, t *models.Tournament, teamID int) ([]models.ChangeEvent, error),
) (*models.Tournament, error) {
	var (
		t      *models.Tournament
		events []models.ChangeEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		team, err := managedTeam(ctx, r, caller)
		if err != nil {
			return err
		}
		t, err = r.Tournaments.GetByIDForUpdate(ctx, tournamentID)
		if err != nil {
			return err
		}
		if !t.HasTeam(team.ID) {
			return ErrNotParticipant
		}
		if t.IsFinished {
			return ErrTournamentFinished
		}
		events, err = fn(ctx, r, t, team.ID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.publisher.Publish(ctx, events...)
	return t, nil
}

func (s *tournamentService) adminAction(
	ctx context.Context,
	caller models.Identity,
	tournamentID int,
	fn func(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error),
) (*models.Tournament, error) {
	if !caller.IsStaff {
		return nil, ErrForbiddenOperation
	}
	var (
		t      *models.Tournament
		events []models.ChangeEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		var err error
		t, err = r.Tournaments.GetByIDForUpdate(ctx, tournamentID)
		if err != nil {
			return err
		}
		events, err = fn(ctx, r, t)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.publisher.Publish(ctx, events...)
	return t, nil
}

// RequestFinish is one half of the two-sided finish confirmation. The first
// team to ask leaves a pending request; the other team asking finishes the
// tournament. Asking again while the own request is pending changes nothing.
func (s *tournamentService) RequestFinish(ctx context.Context, caller models.Identity, tournamentID int) (*models.Tournament, error) {
	return s.managerAction(ctx, caller, tournamentID, func(ctx context.Context, r repositories.Repos, t *models.Tournament, teamID int) ([]models.ChangeEvent, error) {
		askedBy, pending := t.Finish.PendingBy()
		switch {
		case !pending:
			t.Finish = models.FinishRequestedBy(teamID)
			if err := r.Tournaments.Update(ctx, t); err != nil {
				return nil, err
			}
			s.logger.Info("finish requested", slog.Int("tournament_id", t.ID), slog.Int("team_id", teamID))
			return []models.ChangeEvent{tournamentEvent(t)}, nil
		case askedBy == teamID:
			return nil, nil
		default:
			return s.finish(ctx, r, t)
		}
	})
}

func (s *tournamentService) WithdrawFinish(ctx context.Context, caller models.Identity, tournamentID int) (*models.Tournament, error) {
	return s.managerAction(ctx, caller, tournamentID, func(ctx context.Context, r repositories.Repos, t *models.Tournament, teamID int) ([]models.ChangeEvent, error) {
		askedBy, pending := t.Finish.PendingBy()
		if !pending || askedBy != teamID {
			return nil, nil
		}
		t.Finish = models.FinishRequest{}
		if err := r.Tournaments.Update(ctx, t); err != nil {
			return nil, err
		}
		return []models.ChangeEvent{tournamentEvent(t)}, nil
	})
}

// SuggestTime proposes a new start time. A later suggestion from either
// side replaces the pending one.
func (s *tournamentService) SuggestTime(ctx context.Context, caller models.Identity, tournamentID int, at time.Time) (*models.Tournament, error) {
	return s.managerAction(ctx, caller, tournamentID, func(ctx context.Context, r repositories.Repos, t *models.Tournament, teamID int) ([]models.ChangeEvent, error) {
		t.Suggestion = &models.TimeSuggestion{Time: at.UTC(), ByTeam: teamID}
		if err := r.Tournaments.Update(ctx, t); err != nil {
			return nil, err
		}
		return []models.ChangeEvent{tournamentEvent(t)}, nil
	})
}

func (s *tournamentService) AcceptTime(ctx context.Context, caller models.Identity, tournamentID int) (*models.Tournament, error) {
	return s.managerAction(ctx, caller, tournamentID, func(ctx context.Context, r repositories.Repos, t *models.Tournament, teamID int) ([]models.ChangeEvent, error) {
		if t.Suggestion == nil {
			return nil, ErrNoSuggestion
		}
		if t.Suggestion.ByTeam == teamID {
			return nil, ErrOwnSuggestion
		}
		t.MatchStartTime = t.Suggestion.Time
		t.Suggestion = nil
		if err := r.Tournaments.Update(ctx, t); err != nil {
			return nil, err
		}
		return []models.ChangeEvent{tournamentEvent(t)}, nil
	})
}

// SetFinished lets staff finish a tournament without the two-sided
// confirmation, or reopen one whose winner has not advanced yet.
func (s *tournamentService) SetFinished(ctx context.Context, caller models.Identity, tournamentID int, finished bool) (*models.Tournament, error) {
	return s.adminAction(ctx, caller, tournamentID, func(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error) {
		if t.IsFinished == finished {
			return nil, nil
		}
		if finished {
			return s.finish(ctx, r, t)
		}
		return s.reopen(ctx, r, t)
	})
}

func (s *tournamentService) SetStartTime(ctx context.Context, caller models.Identity, tournamentID int, at time.Time) (*models.Tournament, error) {
	return s.adminAction(ctx, caller, tournamentID, func(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error) {
		t.MatchStartTime = at.UTC()
		t.Suggestion = nil
		if err := r.Tournaments.Update(ctx, t); err != nil {
			return nil, err
		}
		return []models.ChangeEvent{tournamentEvent(t)}, nil
	})
}

// finish closes the tournament, picks the side with more match wins as the
// winner (none on a tie) and advances the bracket.
func (s *tournamentService) finish(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error) {
	t.IsFinished = true
	t.WinnerID = copyInt(t.LeadingTeam())
	t.Finish = models.FinishRequest{}
	t.Suggestion = nil
	if err := r.Tournaments.Update(ctx, t); err != nil {
		return nil, err
	}

	logAttrs := []any{slog.Int("tournament_id", t.ID), slog.Int("team_one_wins", t.TeamOneWins), slog.Int("team_two_wins", t.TeamTwoWins)}
	if t.WinnerID != nil {
		logAttrs = append(logAttrs, slog.Int("winner_id", *t.WinnerID))
	}
	s.logger.Info("tournament finished", logAttrs...)

	advanced, err := s.brackets.Advance(ctx, r, t)
	if err != nil {
		return nil, err
	}
	return append([]models.ChangeEvent{tournamentEvent(t)}, advanced...), nil
}

func (s *tournamentService) reopen(ctx context.Context, r repositories.Repos, t *models.Tournament) ([]models.ChangeEvent, error) {
	if t.NextStageTournamentID != nil {
		return nil, ErrTournamentAdvanced
	}
	events := []models.ChangeEvent{}
	if t.IsKnockout() && t.Stage == brackets.GrandFinalStage && t.WinnerID != nil {
		season, err := r.Seasons.GetByID(ctx, t.SeasonID)
		if err != nil {
			return nil, err
		}
		if sameInt(season.WinnerID, t.WinnerID) {
			season.WinnerID = nil
			if err = r.Seasons.Update(ctx, season); err != nil {
				return nil, err
			}
			events = append(events, seasonEvent(season))
		}
	}
	t.IsFinished = false
	t.WinnerID = nil
	if err := r.Tournaments.Update(ctx, t); err != nil {
		return nil, err
	}
	return append(events, tournamentEvent(t)), nil
}

func (s *tournamentService) Create(ctx context.Context, caller models.Identity, req CreateRequest) ([]*models.Tournament, error) {
	if !caller.IsStaff {
		return nil, ErrForbiddenOperation
	}

	start := nextStageStart(s.now())
	if req.MatchStartTime != nil {
		start = req.MatchStartTime.UTC()
	}

	var created []*models.Tournament
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		season, err := r.Seasons.GetActive(ctx)
		if err != nil {
			return err
		}

		var planned []*brackets.Planned
		switch req.Kind {
		case CreateKindTournament:
			if req.TeamOne == nil || req.TeamTwo == nil {
				return fmt.Errorf("%w: team_one and team_two are required", ErrInvalidValue)
			}
			planned = []*brackets.Planned{{
				Stage:        req.Stage,
				InlineNumber: copyInt(req.InlineNumber),
				GroupID:      copyInt(req.Group),
				TeamOneID:    *req.TeamOne,
				TeamTwoID:    *req.TeamTwo,
			}}
		case CreateKindPlayoffs:
			planned, err = brackets.NewSingleEliminationGenerator().Generate(brackets.GenerateParams{Teams: req.Teams})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
		case CreateKindGroups:
			planned, err = s.planGroups(ctx, r, season)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownCreateKind, req.Kind)
		}

		created = make([]*models.Tournament, 0, len(planned))
		for _, p := range planned {
			t := &models.Tournament{
				SeasonID:       season.ID,
				TeamOneID:      copyInt(&p.TeamOneID),
				TeamTwoID:      copyInt(&p.TeamTwoID),
				MatchStartTime: start,
				Stage:          p.Stage,
				InlineNumber:   p.InlineNumber,
				GroupID:        p.GroupID,
			}
			if err = r.Tournaments.Create(ctx, t); err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("tournaments created", slog.String("kind", req.Kind), slog.Int("count", len(created)))
	events := make([]models.ChangeEvent, 0, len(created))
	for _, t := range created {
		events = append(events, tournamentEvent(t))
	}
	s.publisher.Publish(ctx, events...)
	return created, nil
}

func (s *tournamentService) planGroups(ctx context.Context, r repositories.Repos, season *models.Season) ([]*brackets.Planned, error) {
	groups, err := r.Groups.ListBySeason(ctx, season.ID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: season %d has no groups", ErrInvalidValue, season.Number)
	}

	generator := brackets.NewRoundRobinGenerator()
	var planned []*brackets.Planned
	for _, g := range groups {
		groupID := g.ID
		pairs, err := generator.Generate(brackets.GenerateParams{Teams: g.TeamIDs, GroupID: &groupID})
		if err != nil {
			return nil, fmt.Errorf("%w: group %s: %v", ErrInvalidValue, g.GroupMark, err)
		}
		planned = append(planned, pairs...)
	}
	return planned, nil
}

func (s *tournamentService) DeleteSeasonTournaments(ctx context.Context, caller models.Identity) (int, error) {
	if !caller.IsStaff {
		return 0, ErrForbiddenOperation
	}

	var (
		season  *models.Season
		deleted int
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r repositories.Repos) error {
		var err error
		season, err = r.Seasons.GetActive(ctx)
		if err != nil {
			return err
		}
		if err = revertSeasonPlayerStats(ctx, r, season.ID); err != nil {
			return err
		}
		deleted, err = r.Tournaments.DeleteBySeason(ctx, season.ID)
		return err
	})
	if err != nil {
		return 0, mapRepoError(err)
	}

	s.logger.Info("season tournaments deleted", slog.Int("season_id", season.ID), slog.Int("count", deleted))
	s.publisher.Publish(ctx, seasonEvent(season))
	return deleted, nil
}

// revertSeasonPlayerStats takes back the wins and games every match of the
// season gave its players, as deleting a single match does.
func revertSeasonPlayerStats(ctx context.Context, r repositories.Repos, seasonID int) error {
	tournaments, err := r.Tournaments.ListBySeason(ctx, seasonID)
	if err != nil {
		return err
	}

	type delta struct{ wins, games int }
	deltas := make(map[int]*delta)
	add := func(id *int) *delta {
		d, ok := deltas[*id]
		if !ok {
			d = &delta{}
			deltas[*id] = d
		}
		return d
	}
	for _, t := range tournaments {
		matches, err := r.Matches.ListByTournament(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, m := range matches {
			for _, id := range []*int{m.PlayerOneID, m.PlayerTwoID} {
				if id != nil {
					add(id).games++
				}
			}
			if m.WinnerID != nil {
				add(m.WinnerID).wins++
			}
		}
	}

	// Rows are locked in id order.
	ids := make([]int, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		p, err := r.Players.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrPlayerNotFound) {
				continue
			}
			return err
		}
		p.Wins -= deltas[id].wins
		p.TotalGames -= deltas[id].games
		if err = r.Players.Update(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
