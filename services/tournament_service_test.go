package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/EllectronChik/server7x/brackets"
	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTournamentService_TwoSidedFinish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)
	env.setScore(t, tr.ID, 1, 2)

	got, err := env.tournaments.RequestFinish(ctx, env.manager(0), tr.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFinished)
	askedBy, pending := got.Finish.PendingBy()
	require.True(t, pending)
	assert.Equal(t, env.teams[0].ID, askedBy)

	// Asking twice from the same side does not finish.
	got, err = env.tournaments.RequestFinish(ctx, env.manager(0), tr.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFinished)
	assert.True(t, env.tournament(t, tr.ID).Finish.IsPending())

	got, err = env.tournaments.RequestFinish(ctx, env.manager(1), tr.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFinished)

	stored := env.tournament(t, tr.ID)
	assert.True(t, stored.IsFinished)
	assert.False(t, stored.Finish.IsPending())
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, env.teams[1].ID, *stored.WinnerID)

	_, err = env.tournaments.RequestFinish(ctx, env.manager(0), tr.ID)
	assert.ErrorIs(t, err, ErrTournamentFinished)
}

func TestTournamentService_FinishOnTieHasNoWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)
	env.setScore(t, tr.ID, 2, 2)

	_, err := env.tournaments.RequestFinish(ctx, env.manager(1), tr.ID)
	require.NoError(t, err)
	got, err := env.tournaments.RequestFinish(ctx, env.manager(0), tr.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFinished)
	assert.Nil(t, got.WinnerID)
}

func TestTournamentService_WithdrawFinish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)

	_, err := env.tournaments.UpdateAsManager(ctx, env.manager(0), tr.ID, TournamentColumnAskForFinished, json.RawMessage(`true`))
	require.NoError(t, err)

	// The other side cannot withdraw a request it did not make.
	_, err = env.tournaments.UpdateAsManager(ctx, env.manager(1), tr.ID, TournamentColumnAskForFinished, json.RawMessage(`false`))
	require.NoError(t, err)
	assert.True(t, env.tournament(t, tr.ID).Finish.IsPending())

	_, err = env.tournaments.UpdateAsManager(ctx, env.manager(0), tr.ID, TournamentColumnAskForFinished, json.RawMessage(`false`))
	require.NoError(t, err)
	assert.False(t, env.tournament(t, tr.ID).Finish.IsPending())
}

func TestTournamentService_ManagerMustPlay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)

	_, err := env.tournaments.RequestFinish(ctx, env.manager(2), tr.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = env.tournaments.RequestFinish(ctx, models.Identity{UserID: 999}, tr.ID)
	assert.ErrorIs(t, err, ErrNoTeam)

	_, err = env.tournaments.UpdateAsManager(ctx, env.manager(0), tr.ID, TournamentColumnIsFinished, json.RawMessage(`true`))
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestTournamentService_TimeNegotiation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)
	proposed := time.Date(2026, 3, 12, 19, 30, 0, 0, time.UTC)

	_, err := env.tournaments.AcceptTime(ctx, env.manager(1), tr.ID)
	assert.ErrorIs(t, err, ErrNoSuggestion)

	got, err := env.tournaments.UpdateAsManager(ctx, env.manager(0), tr.ID, TournamentColumnSuggestedTime, json.RawMessage(`"2026-03-12T22:30:00+03:00"`))
	require.NoError(t, err)
	require.NotNil(t, got.Suggestion)
	assert.True(t, proposed.Equal(got.Suggestion.Time))
	assert.Equal(t, env.teams[0].ID, got.Suggestion.ByTeam)

	_, err = env.tournaments.AcceptTime(ctx, env.manager(0), tr.ID)
	assert.ErrorIs(t, err, ErrOwnSuggestion)

	got, err = env.tournaments.UpdateAsManager(ctx, env.manager(1), tr.ID, TournamentColumnAcceptTime, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Suggestion)
	assert.True(t, proposed.Equal(got.MatchStartTime))

	stored := env.tournament(t, tr.ID)
	assert.Nil(t, stored.Suggestion)
	assert.True(t, proposed.Equal(stored.MatchStartTime))

	_, err = env.tournaments.UpdateAsManager(ctx, env.manager(0), tr.ID, TournamentColumnSuggestedTime, json.RawMessage(`"tomorrow"`))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestTournamentService_AdminActionsRequireStaff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)

	_, err := env.tournaments.UpdateAsAdmin(ctx, env.manager(0), tr.ID, TournamentColumnIsFinished, json.RawMessage(`true`))
	assert.ErrorIs(t, err, ErrForbiddenOperation)
	_, err = env.tournaments.Create(ctx, env.manager(0), CreateRequest{Kind: CreateKindTournament})
	assert.ErrorIs(t, err, ErrForbiddenOperation)
	_, err = env.tournaments.DeleteSeasonTournaments(ctx, env.manager(0))
	assert.ErrorIs(t, err, ErrForbiddenOperation)

	got, err := env.tournaments.UpdateAsAdmin(ctx, env.staff, tr.ID, TournamentColumnMatchStartTime, json.RawMessage(`"2026-04-01T18:00:00Z"`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC), got.MatchStartTime)
}

// finishWith makes the given side of tr win and force-finishes it.
func finishWith(t *testing.T, env *testEnv, id int, side int) *models.Tournament {
	t.Helper()
	if side == 1 {
		env.setScore(t, id, 1, 0)
	} else {
		env.setScore(t, id, 0, 1)
	}
	got, err := env.tournaments.UpdateAsAdmin(context.Background(), env.staff, id, TournamentColumnIsFinished, json.RawMessage(`true`))
	require.NoError(t, err)
	return got
}

func knockout(tr []*models.Tournament, stage int) []*models.Tournament {
	var out []*models.Tournament
	for _, t := range tr {
		if t.IsKnockout() && t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

func TestTournamentService_BracketConvergesInEitherOrder(t *testing.T) {
	for _, firstInline := range []int{0, 1} {
		env := newTestEnv(t)
		ctx := context.Background()
		ids := []int{env.teams[0].ID, env.teams[1].ID, env.teams[2].ID, env.teams[3].ID}

		created, err := env.tournaments.Create(ctx, env.staff, CreateRequest{Kind: CreateKindPlayoffs, Teams: ids})
		require.NoError(t, err)
		require.Len(t, created, 2)

		r := env.store.Repos()
		top, err := r.Tournaments.GetBracketSlot(ctx, env.season.ID, 1, 0)
		require.NoError(t, err)
		bottom, err := r.Tournaments.GetBracketSlot(ctx, env.season.ID, 1, 1)
		require.NoError(t, err)
		// Seeds 1 and 4 meet on line 0, seeds 2 and 3 on line 1.
		assert.Equal(t, ids[0], *top.TeamOneID)
		assert.Equal(t, ids[3], *top.TeamTwoID)
		assert.Equal(t, ids[1], *bottom.TeamOneID)
		assert.Equal(t, ids[2], *bottom.TeamTwoID)

		first, second := top, bottom
		if firstInline == 1 {
			first, second = bottom, top
		}
		finishWith(t, env, first.ID, 2)

		all, err := r.Tournaments.ListBySeason(ctx, env.season.ID)
		require.NoError(t, err)
		assert.Empty(t, knockout(all, 2), "next stage waits for both winners")

		finishWith(t, env, second.ID, 2)

		all, err = r.Tournaments.ListBySeason(ctx, env.season.ID)
		require.NoError(t, err)
		next := knockout(all, 2)
		require.Len(t, next, 1)
		assert.Equal(t, ids[3], *next[0].TeamOneID)
		assert.Equal(t, ids[2], *next[0].TeamTwoID)
		require.NotNil(t, next[0].InlineNumber)
		assert.Equal(t, 0, *next[0].InlineNumber)
		assert.Equal(t, time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC), next[0].MatchStartTime)

		for _, id := range []int{top.ID, bottom.ID} {
			linked := env.tournament(t, id)
			require.NotNil(t, linked.NextStageTournamentID)
			assert.Equal(t, next[0].ID, *linked.NextStageTournamentID)
		}

		// An advanced tournament cannot be reopened.
		_, err = env.tournaments.SetFinished(ctx, env.staff, top.ID, false)
		assert.ErrorIs(t, err, ErrTournamentAdvanced)
	}
}

func TestTournamentService_NextStageSlotIsNotOverwritten(t *testing.T) {
	env := newTestEnv(t)

	top := env.pairing(t, 0, 1, func(tr *models.Tournament) { tr.InlineNumber = intPtr(2) })
	bottom := env.pairing(t, 2, 3, func(tr *models.Tournament) { tr.InlineNumber = intPtr(3) })
	existing := env.pairing(t, 0, 2, func(tr *models.Tournament) {
		tr.Stage = 2
		tr.InlineNumber = intPtr(1)
		tr.TeamTwoID = nil
	})

	finishWith(t, env, top.ID, 2)
	finishWith(t, env, bottom.ID, 1)

	got := env.tournament(t, existing.ID)
	require.NotNil(t, got.TeamOneID)
	assert.Equal(t, env.teams[0].ID, *got.TeamOneID, "placed team stays")
	require.NotNil(t, got.TeamTwoID)
	assert.Equal(t, env.teams[2].ID, *got.TeamTwoID)
}

func TestTournamentService_GrandFinalCrownsSeason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	final := env.pairing(t, 0, 1, func(tr *models.Tournament) {
		tr.Stage = brackets.GrandFinalStage
		tr.InlineNumber = intPtr(0)
	})

	finishWith(t, env, final.ID, 1)

	season, err := env.store.Repos().Seasons.GetByID(ctx, env.season.ID)
	require.NoError(t, err)
	require.NotNil(t, season.WinnerID)
	assert.Equal(t, env.teams[0].ID, *season.WinnerID)

	all, err := env.store.Repos().Tournaments.ListBySeason(ctx, env.season.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1, "grand final never advances")

	_, err = env.tournaments.SetFinished(ctx, env.staff, final.ID, false)
	require.NoError(t, err)
	season, err = env.store.Repos().Seasons.GetByID(ctx, env.season.ID)
	require.NoError(t, err)
	assert.Nil(t, season.WinnerID)
}

func TestTournamentService_CreateKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 20, 17, 0, 0, 0, time.UTC)
	single, err := env.tournaments.Create(ctx, env.staff, CreateRequest{
		Kind:           CreateKindTournament,
		TeamOne:        intPtr(env.teams[0].ID),
		TeamTwo:        intPtr(env.teams[1].ID),
		Stage:          3,
		InlineNumber:   intPtr(0),
		MatchStartTime: &start,
	})
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, start, single[0].MatchStartTime)

	_, err = env.tournaments.Create(ctx, env.staff, CreateRequest{
		Kind:         CreateKindTournament,
		TeamOne:      intPtr(env.teams[2].ID),
		TeamTwo:      intPtr(env.teams[3].ID),
		Stage:        3,
		InlineNumber: intPtr(0),
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = env.tournaments.Create(ctx, env.staff, CreateRequest{
		Kind:    CreateKindTournament,
		TeamOne: intPtr(env.teams[2].ID),
		TeamTwo: intPtr(env.teams[2].ID),
	})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.tournaments.Create(ctx, env.staff, CreateRequest{Kind: CreateKindPlayoffs, Teams: []int{env.teams[0].ID, env.teams[1].ID, env.teams[2].ID}})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = env.tournaments.Create(ctx, env.staff, CreateRequest{Kind: "ladder"})
	assert.ErrorIs(t, err, ErrUnknownCreateKind)

	_, err = env.tournaments.Create(ctx, env.staff, CreateRequest{Kind: CreateKindGroups})
	assert.ErrorIs(t, err, ErrInvalidValue, "season without groups")

	env.store.SeedGroup(&models.GroupStage{GroupMark: "A", SeasonID: env.season.ID, TeamIDs: []int{env.teams[0].ID, env.teams[1].ID, env.teams[2].ID}})
	env.store.SeedGroup(&models.GroupStage{GroupMark: "B", SeasonID: env.season.ID, TeamIDs: []int{env.teams[3].ID, env.teams[1].ID}})
	groups, err := env.tournaments.Create(ctx, env.staff, CreateRequest{Kind: CreateKindGroups})
	require.NoError(t, err)
	assert.Len(t, groups, 4)
	for _, g := range groups {
		assert.NotNil(t, g.GroupID)
		assert.Equal(t, nextStageStart(testNow), g.MatchStartTime)
	}

	_, err = env.tournaments.Create(ctx, env.staff, CreateRequest{Kind: CreateKindGroups})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestTournamentService_DeleteSeasonTournaments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)
	m := seatedMatch(t, env, tr)
	_, err := env.matches.Patch(ctx, env.manager(0), tr.ID, m.ID, MatchColumnWinner, idValue(env.players[0][0].ID))
	require.NoError(t, err)
	env.pairing(t, 2, 3, nil)
	require.Equal(t, 1, env.player(t, env.players[0][0].ID).Wins)

	deleted, err := env.tournaments.DeleteSeasonTournaments(ctx, env.staff)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// Player stats lose what the deleted matches gave them.
	winner := env.player(t, env.players[0][0].ID)
	assert.Equal(t, 0, winner.Wins)
	assert.Equal(t, 0, winner.TotalGames)
	loser := env.player(t, env.players[1][0].ID)
	assert.Equal(t, 0, loser.Wins)
	assert.Equal(t, 0, loser.TotalGames)

	_, err = env.store.Repos().Tournaments.GetByID(ctx, tr.ID)
	assert.ErrorIs(t, err, repositories.ErrTournamentNotFound)

	env.season.IsFinished = true
	env.store.SeedSeason(env.season)
	_, err = env.tournaments.DeleteSeasonTournaments(ctx, env.staff)
	assert.ErrorIs(t, err, ErrNoActiveSeason)
}

func TestTournamentService_PublishesAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.pairing(t, 0, 1, nil)

	_, err := env.tournaments.RequestFinish(ctx, env.manager(2), tr.ID)
	require.Error(t, err)
	assert.Empty(t, env.publisher.Events())

	_, err = env.tournaments.RequestFinish(ctx, env.manager(0), tr.ID)
	require.NoError(t, err)
	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EntityTournament, events[0].Entity)
	assert.ElementsMatch(t, []int{env.teams[0].ID, env.teams[1].ID}, events[0].TeamIDs)
}
