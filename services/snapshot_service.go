package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EllectronChik/server7x/brackets"
	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
)

// InfoLeagues are the leagues whose player counts the public feed reports.
var InfoLeagues = []int{5, 6, 7}

const previousSeasonsShown = 2

// SnapshotService builds the data pushed to subscribers of each topic.
// Snapshots are read outside of any unit of work and reflect committed state.
type SnapshotService interface {
	MatchList(ctx context.Context, tournamentID int) ([]*models.MatchView, error)
	ManagerStatus(ctx context.Context, userID int) (*models.ManagerStatus, error)
	// ManagedTeam returns the team owned by userID, or ErrNoTeam.
	ManagedTeam(ctx context.Context, userID int) (*models.TeamRef, error)
	AdminDashboard(ctx context.Context) (*models.AdminDashboard, error)
	GroupStandings(ctx context.Context) (*models.GroupStandings, error)
	PublicInfo(ctx context.Context) (*models.PublicInfo, error)
}

type snapshotService struct {
	store  repositories.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewSnapshotService(store repositories.Store, now func() time.Time, logger *slog.Logger) SnapshotService {
	if now == nil {
		now = time.Now
	}
	return &snapshotService{store: store, now: now, logger: logger}
}

func (s *snapshotService) MatchList(ctx context.Context, tournamentID int) ([]*models.MatchView, error) {
	r := s.store.Repos()
	if _, err := r.Tournaments.GetByID(ctx, tournamentID); err != nil {
		return nil, mapRepoError(err)
	}
	return matchViews(ctx, r, tournamentID)
}

func matchViews(ctx context.Context, r repositories.Repos, tournamentID int) ([]*models.MatchView, error) {
	matches, err := r.Matches.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
	}

	players := make(map[int]*models.Player)
	playerRef := func(id *int) (*models.PlayerRef, error) {
		if id == nil {
			return nil, nil
		}
		if p, ok := players[*id]; ok {
			return p.Ref(), nil
		}
		p, err := r.Players.GetByID(ctx, *id)
		if err != nil {
			return nil, fmt.Errorf("failed to load player %d: %w", *id, err)
		}
		players[*id] = p
		return p.Ref(), nil
	}

	views := make([]*models.MatchView, 0, len(matches))
	for _, m := range matches {
		view := &models.MatchView{ID: m.ID, TournamentID: m.TournamentID, WinnerID: m.WinnerID, Map: m.Map}
		if view.PlayerOne, err = playerRef(m.PlayerOneID); err != nil {
			return nil, err
		}
		if view.PlayerTwo, err = playerRef(m.PlayerTwoID); err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func teamIndex(teams []*models.Team) map[int]*models.Team {
	index := make(map[int]*models.Team, len(teams))
	for _, t := range teams {
		index[t.ID] = t
	}
	return index
}

// activeSeason returns nil without error when no season is running.
func activeSeason(ctx context.Context, r repositories.Repos) (*models.Season, error) {
	season, err := r.Seasons.GetActive(ctx)
	if errors.Is(err, repositories.ErrNoActiveSeason) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active season: %w", err)
	}
	return season, nil
}

func (s *snapshotService) ManagedTeam(ctx context.Context, userID int) (*models.TeamRef, error) {
	team, err := managedTeam(ctx, s.store.Repos(), models.Identity{UserID: userID})
	if err != nil {
		return nil, err
	}
	return team.Ref(), nil
}

func (s *snapshotService) ManagerStatus(ctx context.Context, userID int) (*models.ManagerStatus, error) {
	r := s.store.Repos()
	team, err := managedTeam(ctx, r, models.Identity{UserID: userID})
	if err != nil {
		return nil, err
	}
	status := &models.ManagerStatus{Team: team.Ref(), Tournaments: []models.ManagerTournamentView{}}

	season, err := activeSeason(ctx, r)
	if err != nil || season == nil {
		return status, err
	}

	tournaments, err := r.Tournaments.ListBySeasonAndTeam(ctx, season.ID, team.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments of team %d: %w", team.ID, err)
	}
	teams, err := r.Teams.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	index := teamIndex(teams)

	sort.SliceStable(tournaments, func(i, j int) bool {
		return tournaments[i].MatchStartTime.Before(tournaments[j].MatchStartTime)
	})
	for _, t := range tournaments {
		view := models.ManagerTournamentView{
			ID:             t.ID,
			Opponent:       brackets.TeamRef(index, t.Opponent(team.ID)),
			MatchStartTime: t.MatchStartTime,
			Stage:          t.Stage,
			InlineNumber:   t.InlineNumber,
			IsGroup:        !t.IsKnockout(),
			IsFinished:     t.IsFinished,
		}
		if askedBy, pending := t.Finish.PendingBy(); pending {
			view.AskedForFinish = askedBy == team.ID
			view.OpponentAskedToFinish = askedBy != team.ID
		}
		if t.Suggestion != nil {
			at := t.Suggestion.Time
			view.SuggestedTime = &at
			view.AwaitingOpponent = t.Suggestion.ByTeam == team.ID
			view.CanAcceptSuggestion = t.Suggestion.ByTeam != team.ID
		}
		if t.IsFinished {
			own, other := t.TeamOneWins, t.TeamTwoWins
			if t.Side(team.ID) == 2 {
				own, other = other, own
			}
			view.TeamWins, view.OpponentWins = &own, &other
			if view.Matches, err = matchViews(ctx, r, t.ID); err != nil {
				return nil, err
			}
		}
		status.Tournaments = append(status.Tournaments, view)
	}
	return status, nil
}

// seasonData is everything the season-wide snapshots read, loaded concurrently.
type seasonData struct {
	season      *models.Season
	tournaments []*models.Tournament
	groups      []*models.GroupStage
	teams       map[int]*models.Team
}

func (s *snapshotService) loadSeason(ctx context.Context, r repositories.Repos) (*seasonData, error) {
	season, err := activeSeason(ctx, r)
	if err != nil || season == nil {
		return nil, err
	}
	data := &seasonData{season: season}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := r.Tournaments.ListBySeason(gctx, season.ID)
		if err != nil {
			return fmt.Errorf("failed to list tournaments of season %d: %w", season.ID, err)
		}
		data.tournaments = list
		return nil
	})
	g.Go(func() error {
		list, err := r.Groups.ListBySeason(gctx, season.ID)
		if err != nil {
			return fmt.Errorf("failed to list groups of season %d: %w", season.ID, err)
		}
		data.groups = list
		return nil
	})
	g.Go(func() error {
		list, err := r.Teams.List(gctx)
		if err != nil {
			return fmt.Errorf("failed to list teams: %w", err)
		}
		data.teams = teamIndex(list)
		return nil
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *snapshotService) AdminDashboard(ctx context.Context) (*models.AdminDashboard, error) {
	r := s.store.Repos()
	data, err := s.loadSeason(ctx, r)
	if err != nil {
		return nil, err
	}
	dashboard := &models.AdminDashboard{Tournaments: []models.AdminTournamentView{}}
	if data == nil {
		return dashboard, nil
	}
	dashboard.Season = data.season

	marks := make(map[int]string, len(data.groups))
	for _, g := range data.groups {
		marks[g.ID] = g.GroupMark
	}

	for _, t := range data.tournaments {
		count, err := r.Matches.CountByTournament(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count matches of tournament %d: %w", t.ID, err)
		}
		view := models.AdminTournamentView{
			ID:              t.ID,
			TeamOne:         brackets.TeamRef(data.teams, t.TeamOneID),
			TeamTwo:         brackets.TeamRef(data.teams, t.TeamTwoID),
			TeamOneWins:     t.TeamOneWins,
			TeamTwoWins:     t.TeamTwoWins,
			MatchStartTime:  t.MatchStartTime,
			Stage:           t.Stage,
			InlineNumber:    t.InlineNumber,
			IsFinished:      t.IsFinished,
			Winner:          brackets.TeamRef(data.teams, t.WinnerID),
			MatchesExist:    count > 0,
			NextStageTarget: t.NextStageTournamentID,
		}
		if t.GroupID != nil {
			mark := marks[*t.GroupID]
			view.Group = &mark
		}
		if askedBy, pending := t.Finish.PendingBy(); pending {
			view.AskForFinished = true
			view.AskedTeam = &askedBy
		}
		dashboard.Tournaments = append(dashboard.Tournaments, view)
	}
	return dashboard, nil
}

func (s *snapshotService) GroupStandings(ctx context.Context) (*models.GroupStandings, error) {
	data, err := s.loadSeason(ctx, s.store.Repos())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return &models.GroupStandings{Groups: []models.GroupStanding{}}, nil
	}
	return &models.GroupStandings{
		Season: data.season,
		Groups: brackets.GroupStandings(data.groups, data.tournaments, data.teams),
	}, nil
}

// seasonPhase places the active season in its lifecycle at now.
func seasonPhase(season *models.Season, now time.Time) models.SeasonPhase {
	switch {
	case season == nil:
		return models.PhaseNoSeason
	case season.CanRegister:
		return models.PhaseRegistration
	case now.Before(season.StartDatetime):
		return models.PhaseScheduled
	}
	return models.PhaseStarted
}

func (s *snapshotService) PublicInfo(ctx context.Context) (*models.PublicInfo, error) {
	r := s.store.Repos()
	info := &models.PublicInfo{}

	var (
		data     *seasonData
		previous []*models.Season
		teams    []*models.Team
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = s.loadSeason(gctx, r)
		return err
	})
	g.Go(func() error {
		counts, err := r.Players.CountByLeague(gctx, InfoLeagues)
		if err != nil {
			return fmt.Errorf("failed to count players by league: %w", err)
		}
		info.Stats.LeaguePlayers = counts
		return nil
	})
	g.Go(func() error {
		var err error
		if previous, err = r.Seasons.ListFinished(gctx, previousSeasonsShown); err != nil {
			return fmt.Errorf("failed to list finished seasons: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if teams, err = r.Teams.List(gctx); err != nil {
			return fmt.Errorf("failed to list teams: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := teamIndex(teams)
	info.Stats.PreviousSeasons = make([]models.SeasonSummary, 0, len(previous))
	for _, season := range previous {
		info.Stats.PreviousSeasons = append(info.Stats.PreviousSeasons, models.SeasonSummary{
			Number:        season.Number,
			StartDatetime: season.StartDatetime,
			Winner:        brackets.TeamRef(index, season.WinnerID),
		})
	}

	if data != nil {
		info.Season = data.season
	}
	info.Phase = seasonPhase(info.Season, s.now())
	if info.Phase == models.PhaseStarted {
		info.Groups = brackets.GroupStandings(data.groups, data.tournaments, data.teams)
		info.Playoffs = brackets.PlayoffTree(data.tournaments, data.teams)
	}
	return info, nil
}
