package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/EllectronChik/server7x/models"
)

// memoryState holds every entity by value. Pointer fields are copied on the
// way in and out so callers never share memory with the store.
type memoryState struct {
	seq         map[string]int
	teams       map[int]models.Team
	players     map[int]models.Player
	matches     map[int]models.Match
	tournaments map[int]models.Tournament
	seasons     map[int]models.Season
	groups      map[int]models.GroupStage
	tokens      map[string]models.Identity
}

func newMemoryState() *memoryState {
	return &memoryState{
		seq:         make(map[string]int),
		teams:       make(map[int]models.Team),
		players:     make(map[int]models.Player),
		matches:     make(map[int]models.Match),
		tournaments: make(map[int]models.Tournament),
		seasons:     make(map[int]models.Season),
		groups:      make(map[int]models.GroupStage),
		tokens:      make(map[string]models.Identity),
	}
}

func cloneMap[K comparable, V any](m map[K]V, clone func(V) V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

func same[V any](v V) V { return v }

func (st *memoryState) clone() *memoryState {
	return &memoryState{
		seq:         cloneMap(st.seq, same[int]),
		teams:       cloneMap(st.teams, copyTeam),
		players:     cloneMap(st.players, same[models.Player]),
		matches:     cloneMap(st.matches, copyMatch),
		tournaments: cloneMap(st.tournaments, copyTournament),
		seasons:     cloneMap(st.seasons, copySeason),
		groups:      cloneMap(st.groups, copyGroup),
		tokens:      cloneMap(st.tokens, same[models.Identity]),
	}
}

func (st *memoryState) nextID(kind string) int {
	st.seq[kind]++
	return st.seq[kind]
}

// observeID keeps the sequence ahead of explicitly chosen ids.
func (st *memoryState) observeID(kind string, id int) {
	if id > st.seq[kind] {
		st.seq[kind] = id
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTeam(t models.Team) models.Team {
	t.RegionID = copyInt(t.RegionID)
	t.OwnerID = copyInt(t.OwnerID)
	return t
}

func copyMatch(m models.Match) models.Match {
	m.UserID = copyInt(m.UserID)
	m.PlayerOneID = copyInt(m.PlayerOneID)
	m.PlayerTwoID = copyInt(m.PlayerTwoID)
	m.WinnerID = copyInt(m.WinnerID)
	return m
}

func copyTournament(t models.Tournament) models.Tournament {
	t.TeamOneID = copyInt(t.TeamOneID)
	t.TeamTwoID = copyInt(t.TeamTwoID)
	t.InlineNumber = copyInt(t.InlineNumber)
	t.GroupID = copyInt(t.GroupID)
	t.WinnerID = copyInt(t.WinnerID)
	t.NextStageTournamentID = copyInt(t.NextStageTournamentID)
	if t.Suggestion != nil {
		s := *t.Suggestion
		t.Suggestion = &s
	}
	return t
}

func copySeason(s models.Season) models.Season {
	s.WinnerID = copyInt(s.WinnerID)
	return s
}

func copyGroup(g models.GroupStage) models.GroupStage {
	g.TeamIDs = append([]int{}, g.TeamIDs...)
	return g
}

type memoryAccess interface {
	read(fn func(st *memoryState) error) error
	write(fn func(st *memoryState) error) error
}

// MemoryStore is a Store kept entirely in process memory. Transactions work
// on a private copy of the state that replaces the shared one on success.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (s *MemoryStore) read(fn func(st *memoryState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// write runs fn against a private copy of the state and publishes the copy
// when fn succeeds.
func (s *MemoryStore) write(fn func(st *memoryState) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Repos() Repos {
	return newMemoryRepos(s)
}

// InTx must not be nested, and fn must only write through the passed Repos.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return s.write(func(st *memoryState) error {
		return fn(ctx, newMemoryRepos(txAccess{st: st}))
	})
}

type txAccess struct {
	st *memoryState
}

func (a txAccess) read(fn func(st *memoryState) error) error  { return fn(a.st) }
func (a txAccess) write(fn func(st *memoryState) error) error { return fn(a.st) }

func newMemoryRepos(acc memoryAccess) Repos {
	return Repos{
		Teams:       &memoryTeamRepository{acc: acc},
		Players:     &memoryPlayerRepository{acc: acc},
		Matches:     &memoryMatchRepository{acc: acc},
		Tournaments: &memoryTournamentRepository{acc: acc},
		Seasons:     &memorySeasonRepository{acc: acc},
		Groups:      &memoryGroupStageRepository{acc: acc},
		Tokens:      &memoryTokenRepository{acc: acc},
	}
}

// Fixture is the seed document accepted by LoadFixture.
type Fixture struct {
	Teams   []models.Team              `json:"teams"`
	Players []models.Player            `json:"players"`
	Seasons []models.Season            `json:"seasons"`
	Groups  []models.GroupStage        `json:"groups"`
	Tokens  map[string]models.Identity `json:"tokens"`
}

// LoadFixture seeds the store from a JSON Fixture document.
func (s *MemoryStore) LoadFixture(r io.Reader) error {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("failed to decode fixture: %w", err)
	}
	for i := range f.Teams {
		s.SeedTeam(&f.Teams[i])
	}
	for i := range f.Players {
		s.SeedPlayer(&f.Players[i])
	}
	for i := range f.Seasons {
		s.SeedSeason(&f.Seasons[i])
	}
	for i := range f.Groups {
		s.SeedGroup(&f.Groups[i])
	}
	for key, id := range f.Tokens {
		s.SeedToken(key, id)
	}
	return nil
}

func (s *MemoryStore) seed(kind string, id *int, put func(st *memoryState)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if *id == 0 {
		*id = s.state.nextID(kind)
	} else {
		s.state.observeID(kind, *id)
	}
	put(s.state)
}

// SeedTeam inserts or replaces a team, assigning an id when it has none.
func (s *MemoryStore) SeedTeam(t *models.Team) {
	s.seed("team", &t.ID, func(st *memoryState) { st.teams[t.ID] = copyTeam(*t) })
}

func (s *MemoryStore) SeedPlayer(p *models.Player) {
	s.seed("player", &p.ID, func(st *memoryState) { st.players[p.ID] = *p })
}

func (s *MemoryStore) SeedSeason(season *models.Season) {
	s.seed("season", &season.ID, func(st *memoryState) { st.seasons[season.ID] = copySeason(*season) })
}

func (s *MemoryStore) SeedGroup(g *models.GroupStage) {
	s.seed("group", &g.ID, func(st *memoryState) { st.groups[g.ID] = copyGroup(*g) })
}

func (s *MemoryStore) SeedToken(key string, id models.Identity) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tokens[key] = id
}

// sortedValues returns the map values ordered by less.
func sortedValues[V any](m map[int]V, keep func(V) bool, clone func(V) V, less func(a, b V) bool) []*V {
	out := make([]*V, 0)
	for _, v := range m {
		if keep(v) {
			c := clone(v)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(*out[i], *out[j]) })
	return out
}

type memoryTeamRepository struct {
	acc memoryAccess
}

func (r *memoryTeamRepository) GetByID(_ context.Context, id int) (*models.Team, error) {
	var out *models.Team
	err := r.acc.read(func(st *memoryState) error {
		t, ok := st.teams[id]
		if !ok {
			return ErrTeamNotFound
		}
		c := copyTeam(t)
		out = &c
		return nil
	})
	return out, err
}

func (r *memoryTeamRepository) GetByOwner(_ context.Context, userID int) (*models.Team, error) {
	var out *models.Team
	err := r.acc.read(func(st *memoryState) error {
		teams := sortedValues(st.teams,
			func(t models.Team) bool { return t.OwnerID != nil && *t.OwnerID == userID },
			copyTeam,
			func(a, b models.Team) bool { return a.ID < b.ID })
		if len(teams) == 0 {
			return ErrTeamNotFound
		}
		out = teams[0]
		return nil
	})
	return out, err
}

func (r *memoryTeamRepository) List(_ context.Context) ([]*models.Team, error) {
	var out []*models.Team
	err := r.acc.read(func(st *memoryState) error {
		out = sortedValues(st.teams,
			func(models.Team) bool { return true },
			copyTeam,
			func(a, b models.Team) bool { return a.ID < b.ID })
		return nil
	})
	return out, err
}

type memoryPlayerRepository struct {
	acc memoryAccess
}

func (r *memoryPlayerRepository) GetByID(_ context.Context, id int) (*models.Player, error) {
	var out *models.Player
	err := r.acc.read(func(st *memoryState) error {
		p, ok := st.players[id]
		if !ok {
			return ErrPlayerNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

// GetByIDForUpdate is GetByID: memory transactions are already serialized.
func (r *memoryPlayerRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Player, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryPlayerRepository) Update(_ context.Context, p *models.Player) error {
	return r.acc.write(func(st *memoryState) error {
		if _, ok := st.players[p.ID]; !ok {
			return ErrPlayerNotFound
		}
		st.players[p.ID] = *p
		return nil
	})
}

func (r *memoryPlayerRepository) CountByLeague(_ context.Context, leagues []int) (map[int]int, error) {
	counts := make(map[int]int, len(leagues))
	for _, l := range leagues {
		counts[l] = 0
	}
	err := r.acc.read(func(st *memoryState) error {
		for _, p := range st.players {
			if _, ok := counts[p.League]; ok {
				counts[p.League]++
			}
		}
		return nil
	})
	return counts, err
}

type memoryMatchRepository struct {
	acc memoryAccess
}

func (r *memoryMatchRepository) GetByID(_ context.Context, id int) (*models.Match, error) {
	var out *models.Match
	err := r.acc.read(func(st *memoryState) error {
		m, ok := st.matches[id]
		if !ok {
			return ErrMatchNotFound
		}
		c := copyMatch(m)
		out = &c
		return nil
	})
	return out, err
}

func (r *memoryMatchRepository) ListByTournament(_ context.Context, tournamentID int) ([]*models.Match, error) {
	var out []*models.Match
	err := r.acc.read(func(st *memoryState) error {
		out = sortedValues(st.matches,
			func(m models.Match) bool { return m.TournamentID == tournamentID },
			copyMatch,
			func(a, b models.Match) bool { return a.ID < b.ID })
		return nil
	})
	return out, err
}

func (r *memoryMatchRepository) CountByTournament(_ context.Context, tournamentID int) (int, error) {
	n := 0
	err := r.acc.read(func(st *memoryState) error {
		for _, m := range st.matches {
			if m.TournamentID == tournamentID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func checkMatchRefs(st *memoryState, m *models.Match) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := st.tournaments[m.TournamentID]; !ok {
		return ErrMatchTournamentInvalid
	}
	for _, id := range []*int{m.PlayerOneID, m.PlayerTwoID} {
		if id == nil {
			continue
		}
		if _, ok := st.players[*id]; !ok {
			return ErrMatchPlayerInvalid
		}
	}
	return nil
}

func (r *memoryMatchRepository) Create(_ context.Context, m *models.Match) error {
	return r.acc.write(func(st *memoryState) error {
		if err := checkMatchRefs(st, m); err != nil {
			return err
		}
		m.ID = st.nextID("match")
		st.matches[m.ID] = copyMatch(*m)
		return nil
	})
}

func (r *memoryMatchRepository) Update(_ context.Context, m *models.Match) error {
	return r.acc.write(func(st *memoryState) error {
		existing, ok := st.matches[m.ID]
		if !ok {
			return ErrMatchNotFound
		}
		if err := checkMatchRefs(st, m); err != nil {
			return err
		}
		updated := copyMatch(*m)
		updated.TournamentID = existing.TournamentID
		updated.UserID = existing.UserID
		st.matches[m.ID] = updated
		return nil
	})
}

func (r *memoryMatchRepository) Delete(_ context.Context, id int) error {
	return r.acc.write(func(st *memoryState) error {
		if _, ok := st.matches[id]; !ok {
			return ErrMatchNotFound
		}
		delete(st.matches, id)
		return nil
	})
}

type memoryTournamentRepository struct {
	acc memoryAccess
}

func tournamentsByStart(a, b models.Tournament) bool {
	if !a.MatchStartTime.Equal(b.MatchStartTime) {
		return a.MatchStartTime.Before(b.MatchStartTime)
	}
	return a.ID < b.ID
}

func (r *memoryTournamentRepository) GetByID(_ context.Context, id int) (*models.Tournament, error) {
	var out *models.Tournament
	err := r.acc.read(func(st *memoryState) error {
		t, ok := st.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		c := copyTournament(t)
		out = &c
		return nil
	})
	return out, err
}

func (r *memoryTournamentRepository) ListBySeason(_ context.Context, seasonID int) ([]*models.Tournament, error) {
	var out []*models.Tournament
	err := r.acc.read(func(st *memoryState) error {
		out = sortedValues(st.tournaments,
			func(t models.Tournament) bool { return t.SeasonID == seasonID },
			copyTournament,
			tournamentsByStart)
		return nil
	})
	return out, err
}

func (r *memoryTournamentRepository) ListBySeasonAndTeam(_ context.Context, seasonID, teamID int) ([]*models.Tournament, error) {
	var out []*models.Tournament
	err := r.acc.read(func(st *memoryState) error {
		out = sortedValues(st.tournaments,
			func(t models.Tournament) bool { return t.SeasonID == seasonID && t.HasTeam(teamID) },
			copyTournament,
			tournamentsByStart)
		return nil
	})
	return out, err
}

func (r *memoryTournamentRepository) GetBracketSlot(_ context.Context, seasonID, stage, inlineNumber int) (*models.Tournament, error) {
	var out *models.Tournament
	err := r.acc.read(func(st *memoryState) error {
		for _, t := range st.tournaments {
			if t.SeasonID == seasonID && t.Stage == stage && t.IsKnockout() &&
				t.InlineNumber != nil && *t.InlineNumber == inlineNumber {
				c := copyTournament(t)
				out = &c
				return nil
			}
		}
		return ErrTournamentNotFound
	})
	return out, err
}

func samePairing(a, b models.Tournament) bool {
	if a.TeamOneID == nil || a.TeamTwoID == nil || b.TeamOneID == nil || b.TeamTwoID == nil {
		return false
	}
	x1, x2, y1, y2 := *a.TeamOneID, *a.TeamTwoID, *b.TeamOneID, *b.TeamTwoID
	return (x1 == y1 && x2 == y2) || (x1 == y2 && x2 == y1)
}

// checkTournament mirrors the foreign keys and unique indexes of the
// tournaments table.
func checkTournament(st *memoryState, t *models.Tournament) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := st.seasons[t.SeasonID]; !ok {
		return ErrTournamentInvalidSeason
	}
	for _, id := range []*int{t.TeamOneID, t.TeamTwoID, t.WinnerID} {
		if id == nil {
			continue
		}
		if _, ok := st.teams[*id]; !ok {
			return ErrTournamentInvalidTeam
		}
	}
	for _, other := range st.tournaments {
		if other.ID == t.ID || other.SeasonID != t.SeasonID {
			continue
		}
		if t.IsKnockout() && other.IsKnockout() && t.InlineNumber != nil && other.InlineNumber != nil &&
			t.Stage == other.Stage && *t.InlineNumber == *other.InlineNumber {
			return ErrTournamentDuplicate
		}
		if !t.IsKnockout() && !other.IsKnockout() && *t.GroupID == *other.GroupID && samePairing(*t, other) {
			return ErrTournamentDuplicate
		}
	}
	return nil
}

func (r *memoryTournamentRepository) Create(_ context.Context, t *models.Tournament) error {
	return r.acc.write(func(st *memoryState) error {
		t.ID = 0
		if err := checkTournament(st, t); err != nil {
			return err
		}
		t.ID = st.nextID("tournament")
		st.tournaments[t.ID] = copyTournament(*t)
		return nil
	})
}

func (r *memoryTournamentRepository) Update(_ context.Context, t *models.Tournament) error {
	return r.acc.write(func(st *memoryState) error {
		existing, ok := st.tournaments[t.ID]
		if !ok {
			return ErrTournamentNotFound
		}
		updated := copyTournament(*t)
		updated.SeasonID = existing.SeasonID
		if err := checkTournament(st, &updated); err != nil {
			return err
		}
		st.tournaments[t.ID] = updated
		return nil
	})
}

func (r *memoryTournamentRepository) DeleteBySeason(_ context.Context, seasonID int) (int, error) {
	n := 0
	err := r.acc.write(func(st *memoryState) error {
		for id, t := range st.tournaments {
			if t.SeasonID != seasonID {
				continue
			}
			for mid, m := range st.matches {
				if m.TournamentID == id {
					delete(st.matches, mid)
				}
			}
			delete(st.tournaments, id)
			n++
		}
		return nil
	})
	return n, err
}

// GetByIDForUpdate is GetByID: memory transactions are already serialized.
func (r *memoryTournamentRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Tournament, error) {
	return r.GetByID(ctx, id)
}

// LockBracketStage is a no-op: memory transactions are already serialized.
func (r *memoryTournamentRepository) LockBracketStage(context.Context, int, int) error {
	return nil
}

type memorySeasonRepository struct {
	acc memoryAccess
}

func (r *memorySeasonRepository) GetActive(_ context.Context) (*models.Season, error) {
	var out *models.Season
	err := r.acc.read(func(st *memoryState) error {
		for _, s := range st.seasons {
			if !s.IsFinished && (out == nil || s.Number > out.Number) {
				c := copySeason(s)
				out = &c
			}
		}
		if out == nil {
			return ErrNoActiveSeason
		}
		return nil
	})
	return out, err
}

func (r *memorySeasonRepository) GetByID(_ context.Context, id int) (*models.Season, error) {
	var out *models.Season
	err := r.acc.read(func(st *memoryState) error {
		s, ok := st.seasons[id]
		if !ok {
			return ErrSeasonNotFound
		}
		c := copySeason(s)
		out = &c
		return nil
	})
	return out, err
}

func (r *memorySeasonRepository) ListFinished(_ context.Context, limit int) ([]*models.Season, error) {
	var out []*models.Season
	err := r.acc.read(func(st *memoryState) error {
		out = sortedValues(st.seasons,
			func(s models.Season) bool { return s.IsFinished },
			copySeason,
			func(a, b models.Season) bool { return a.Number > b.Number })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *memorySeasonRepository) Update(_ context.Context, s *models.Season) error {
	return r.acc.write(func(st *memoryState) error {
		if _, ok := st.seasons[s.ID]; !ok {
			return ErrSeasonNotFound
		}
		if !s.IsFinished {
			for id, other := range st.seasons {
				if id != s.ID && !other.IsFinished {
					return ErrSeasonConflict
				}
			}
		}
		st.seasons[s.ID] = copySeason(*s)
		return nil
	})
}

type memoryGroupStageRepository struct {
	acc memoryAccess
}

func (r *memoryGroupStageRepository) ListBySeason(_ context.Context, seasonID int) ([]*models.GroupStage, error) {
	var out []*models.GroupStage
	err := r.acc.read(func(st *memoryState) error {
		out = sortedValues(st.groups,
			func(g models.GroupStage) bool { return g.SeasonID == seasonID },
			func(g models.GroupStage) models.GroupStage {
				g = copyGroup(g)
				sort.Ints(g.TeamIDs)
				return g
			},
			func(a, b models.GroupStage) bool {
				if a.GroupMark != b.GroupMark {
					return a.GroupMark < b.GroupMark
				}
				return a.ID < b.ID
			})
		return nil
	})
	return out, err
}

type memoryTokenRepository struct {
	acc memoryAccess
}

func (r *memoryTokenRepository) Resolve(_ context.Context, key string) (models.Identity, error) {
	var out models.Identity
	err := r.acc.read(func(st *memoryState) error {
		id, ok := st.tokens[key]
		if !ok {
			return ErrTokenNotFound
		}
		out = id
		return nil
	})
	return out, err
}
