package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...models.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) Events() []models.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeEvent(nil), p.events...)
}

// testEnv is a season with four teams, each managed by its own user and
// fielding two players.
type testEnv struct {
	store     *repositories.MemoryStore
	publisher *recordingPublisher

	matches     MatchService
	tournaments TournamentService
	snapshots   SnapshotService

	season  *models.Season
	teams   [4]*models.Team
	players [4][2]*models.Player
	staff   models.Identity
}

func (e *testEnv) manager(team int) models.Identity {
	return models.Identity{UserID: *e.teams[team].OwnerID}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repositories.NewMemoryStore()
	publisher := &recordingPublisher{}
	now := func() time.Time { return testNow }
	logger := discardLogger()

	env := &testEnv{
		store:       store,
		publisher:   publisher,
		matches:     NewMatchService(store, publisher, logger),
		tournaments: NewTournamentService(store, NewBracketService(now, logger), publisher, now, logger),
		snapshots:   NewSnapshotService(store, now, logger),
		staff:       models.Identity{UserID: 1, IsStaff: true},
	}

	env.season = &models.Season{Number: 7, StartDatetime: testNow.Add(-24 * time.Hour)}
	store.SeedSeason(env.season)

	names := []string{"Alpha", "Bravo", "Charlie", "Delta"}
	for i, name := range names {
		team := &models.Team{Name: name, Tag: name[:1], OwnerID: intPtr(10 * (i + 1))}
		store.SeedTeam(team)
		env.teams[i] = team
		for j := range env.players[i] {
			p := &models.Player{Username: name + string(rune('1'+j)), TeamID: team.ID, League: 5 + j}
			store.SeedPlayer(p)
			env.players[i][j] = p
		}
	}
	return env
}

// pairing creates a tournament between two of the env's teams.
func (e *testEnv) pairing(t *testing.T, one, two int, mutate func(*models.Tournament)) *models.Tournament {
	t.Helper()
	tr := &models.Tournament{
		SeasonID:       e.season.ID,
		TeamOneID:      intPtr(e.teams[one].ID),
		TeamTwoID:      intPtr(e.teams[two].ID),
		MatchStartTime: testNow,
		Stage:          1,
	}
	if mutate != nil {
		mutate(tr)
	}
	require.NoError(t, e.store.InTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		return r.Tournaments.Create(ctx, tr)
	}))
	return tr
}

func (e *testEnv) tournament(t *testing.T, id int) *models.Tournament {
	t.Helper()
	tr, err := e.store.Repos().Tournaments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func (e *testEnv) player(t *testing.T, id int) *models.Player {
	t.Helper()
	p, err := e.store.Repos().Players.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) setScore(t *testing.T, id, one, two int) {
	t.Helper()
	require.NoError(t, e.store.InTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		tr, err := r.Tournaments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		tr.TeamOneWins, tr.TeamTwoWins = one, two
		return r.Tournaments.Update(ctx, tr)
	}))
}
