package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/EllectronChik/server7x/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func seededStore(t *testing.T) (*MemoryStore, *models.Season, *models.Team, *models.Team) {
	t.Helper()
	s := NewMemoryStore()
	season := &models.Season{Number: 1, StartDatetime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.SeedSeason(season)
	a := &models.Team{Name: "Alpha", Tag: "A"}
	b := &models.Team{Name: "Bravo", Tag: "B"}
	s.SeedTeam(a)
	s.SeedTeam(b)
	return s, season, a, b
}

func TestMemoryStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s, season, a, b := seededStore(t)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, r Repos) error {
		tr := &models.Tournament{SeasonID: season.ID, TeamOneID: &a.ID, TeamTwoID: &b.ID}
		require.NoError(t, r.Tournaments.Create(ctx, tr))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := s.Repos().Tournaments.ListBySeason(ctx, season.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore_InTxCommits(t *testing.T) {
	ctx := context.Background()
	s, season, a, b := seededStore(t)

	var created models.Tournament
	err := s.InTx(ctx, func(ctx context.Context, r Repos) error {
		created = models.Tournament{SeasonID: season.ID, TeamOneID: &a.ID, TeamTwoID: &b.ID}
		return r.Tournaments.Create(ctx, &created)
	})
	require.NoError(t, err)

	got, err := s.Repos().Tournaments.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, *got.TeamOneID)
}

func TestMemoryStore_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s, season, a, b := seededStore(t)

	tr := &models.Tournament{SeasonID: season.ID, TeamOneID: intPtr(a.ID), TeamTwoID: intPtr(b.ID)}
	require.NoError(t, s.Repos().Tournaments.Create(ctx, tr))
	*tr.TeamOneID = 999

	got, err := s.Repos().Tournaments.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, *got.TeamOneID)
}

func TestMemoryStore_TournamentConstraints(t *testing.T) {
	ctx := context.Background()
	s, season, a, b := seededStore(t)
	repo := s.Repos().Tournaments

	err := repo.Create(ctx, &models.Tournament{SeasonID: season.ID, TeamOneID: &a.ID, TeamTwoID: &a.ID})
	assert.ErrorIs(t, err, models.ErrTournamentSameTeams)

	err = repo.Create(ctx, &models.Tournament{SeasonID: season.ID + 100, TeamOneID: &a.ID})
	assert.ErrorIs(t, err, ErrTournamentInvalidSeason)

	err = repo.Create(ctx, &models.Tournament{SeasonID: season.ID, TeamOneID: intPtr(12345)})
	assert.ErrorIs(t, err, ErrTournamentInvalidTeam)

	slot := &models.Tournament{SeasonID: season.ID, Stage: 2, InlineNumber: intPtr(0)}
	require.NoError(t, repo.Create(ctx, slot))
	err = repo.Create(ctx, &models.Tournament{SeasonID: season.ID, Stage: 2, InlineNumber: intPtr(0)})
	assert.ErrorIs(t, err, ErrTournamentDuplicate)

	group := intPtr(7)
	require.NoError(t, repo.Create(ctx, &models.Tournament{SeasonID: season.ID, GroupID: group, TeamOneID: &a.ID, TeamTwoID: &b.ID}))
	err = repo.Create(ctx, &models.Tournament{SeasonID: season.ID, GroupID: group, TeamOneID: &b.ID, TeamTwoID: &a.ID})
	assert.ErrorIs(t, err, ErrTournamentDuplicate)

	found, err := repo.GetBracketSlot(ctx, season.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, slot.ID, found.ID)

	_, err = repo.GetBracketSlot(ctx, season.ID, 2, 1)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestMemoryStore_MatchConstraints(t *testing.T) {
	ctx := context.Background()
	s, season, a, b := seededStore(t)
	p1 := &models.Player{Username: "one", TeamID: a.ID}
	p2 := &models.Player{Username: "two", TeamID: b.ID}
	s.SeedPlayer(p1)
	s.SeedPlayer(p2)

	tr := &models.Tournament{SeasonID: season.ID, TeamOneID: &a.ID, TeamTwoID: &b.ID}
	require.NoError(t, s.Repos().Tournaments.Create(ctx, tr))

	matches := s.Repos().Matches
	err := matches.Create(ctx, &models.Match{TournamentID: tr.ID, PlayerOneID: &p1.ID, PlayerTwoID: &p1.ID})
	assert.ErrorIs(t, err, models.ErrMatchSamePlayers)

	err = matches.Create(ctx, &models.Match{TournamentID: tr.ID, PlayerOneID: &p1.ID, WinnerID: &p2.ID})
	assert.ErrorIs(t, err, models.ErrMatchWinnerNotPlayer)

	err = matches.Create(ctx, &models.Match{TournamentID: tr.ID + 50})
	assert.ErrorIs(t, err, ErrMatchTournamentInvalid)

	m := &models.Match{TournamentID: tr.ID, PlayerOneID: &p1.ID, PlayerTwoID: &p2.ID}
	require.NoError(t, matches.Create(ctx, m))
	n, err := matches.CountByTournament(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deleted, err := s.Repos().Tournaments.DeleteBySeason(ctx, season.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = matches.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestMemoryStore_SingleActiveSeason(t *testing.T) {
	ctx := context.Background()
	s, season, _, _ := seededStore(t)
	next := &models.Season{Number: 2, IsFinished: true}
	s.SeedSeason(next)

	next.IsFinished = false
	err := s.Repos().Seasons.Update(ctx, next)
	assert.ErrorIs(t, err, ErrSeasonConflict)

	season.IsFinished = true
	require.NoError(t, s.Repos().Seasons.Update(ctx, season))
	require.NoError(t, s.Repos().Seasons.Update(ctx, next))

	active, err := s.Repos().Seasons.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.ID, active.ID)

	finished, err := s.Repos().Seasons.ListFinished(ctx, 2)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, season.ID, finished[0].ID)
}

func TestMemoryStore_LoadFixture(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	fixture := `{
		"teams": [{"id": 3, "name": "Gamma", "tag": "G", "user_id": 42}],
		"players": [{"id": 8, "username": "gg", "team": 3, "league": 6}],
		"seasons": [{"id": 1, "number": 5, "can_register": true}],
		"groups": [{"id": 2, "groupMark": "A", "season": 1, "teams": [3]}],
		"tokens": {"secret": {"user_id": 42, "is_staff": false}}
	}`
	require.NoError(t, s.LoadFixture(strings.NewReader(fixture)))

	team, err := s.Repos().Teams.GetByOwner(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Gamma", team.Name)

	id, err := s.Repos().Tokens.Resolve(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 42}, id)

	counts, err := s.Repos().Players.CountByLeague(ctx, []int{5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{5: 0, 6: 1, 7: 0}, counts)

	groups, err := s.Repos().Groups.ListBySeason(ctx, 1)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{3}, groups[0].TeamIDs)

	next := &models.Team{Name: "Delta"}
	s.SeedTeam(next)
	assert.Equal(t, 4, next.ID)
}
