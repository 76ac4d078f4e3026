package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
	"github.com/EllectronChik/server7x/services"
)

const (
	staffToken    = "staff-token"
	managerToken  = "manager-token"
	opponentToken = "opponent-token"
)

type liveEnv struct {
	server     *httptest.Server
	store      *repositories.MemoryStore
	tournament *models.Tournament
	players    []*models.Player
}

func newLiveEnv(t *testing.T, authTimeout time.Duration) *liveEnv {
	t.Helper()
	logger := discardLogger()
	store := repositories.NewMemoryStore()

	season := &models.Season{Number: 3, StartDatetime: time.Now().Add(-time.Hour)}
	store.SeedSeason(season)
	home := &models.Team{Name: "Home", OwnerID: intPtr(20)}
	away := &models.Team{Name: "Away", OwnerID: intPtr(30)}
	store.SeedTeam(home)
	store.SeedTeam(away)
	p1 := &models.Player{Username: "home1", TeamID: home.ID}
	p2 := &models.Player{Username: "away1", TeamID: away.ID}
	store.SeedPlayer(p1)
	store.SeedPlayer(p2)
	store.SeedToken(staffToken, models.Identity{UserID: 10, IsStaff: true})
	store.SeedToken(managerToken, models.Identity{UserID: 20})
	store.SeedToken(opponentToken, models.Identity{UserID: 30})

	tr := &models.Tournament{SeasonID: season.ID, TeamOneID: &home.ID, TeamTwoID: &away.ID, MatchStartTime: time.Now(), Stage: 1}
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		return r.Tournaments.Create(ctx, tr)
	}))

	metrics := NewMetrics(prometheus.NewRegistry())
	hub := NewHub(metrics, logger)
	notifier := NewNotifier(hub, logger)
	require.NoError(t, notifier.Start(context.Background()))
	t.Cleanup(func() { _ = notifier.Close() })

	snapshots := services.NewSnapshotService(store, nil, logger)
	matches := services.NewMatchService(store, notifier, logger)
	tournaments := services.NewTournamentService(store, services.NewBracketService(nil, logger), notifier, nil, logger)

	deps := ConnectionDeps{
		Hub:         hub,
		Resolver:    services.NewCredentialResolver(store.Repos().Tokens, ""),
		AuthTimeout: authTimeout,
		Metrics:     metrics,
		Logger:      logger,
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	for _, topic := range []Topic{
		MatchTopic(snapshots, matches),
		ManagerTopic(snapshots, tournaments),
		AdminTopic(snapshots, tournaments),
		GroupsTopic(snapshots),
		InfoTopic(snapshots),
	} {
		mux.HandleFunc("/ws/"+topic.Name(), func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			NewConnection(conn, topic, deps).Serve(r.Context())
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Shutdown(ReasonShutdown)
		server.Close()
	})

	return &liveEnv{server: server, store: store, tournament: tr, players: []*models.Player{p1, p2}}
}

func intPtr(v int) *int { return &v }

func (e *liveEnv) dial(t *testing.T, topic string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// expectClosed reads the close envelope and the close frame after it.
func expectClosed(t *testing.T, conn *websocket.Conn, reason string) {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, TypeClose, env.Type)
	var payload closePayload
	require.NoError(t, json.Unmarshal([]byte(env.Text), &payload))
	assert.Equal(t, reason, payload.Reason)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	assert.ErrorAs(t, err, &closeErr)
}

func subscribe(t *testing.T, conn *websocket.Conn, token string, group any) {
	t.Helper()
	require.Equal(t, TypeAccept, readEnvelope(t, conn).Type)
	require.NoError(t, conn.WriteJSON(map[string]any{"token": token, "action": "subscribe", "group": group}))
}

func readMatches(t *testing.T, conn *websocket.Conn) []models.MatchView {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, TypeSend, env.Type)
	var views []models.MatchView
	require.NoError(t, json.Unmarshal([]byte(env.Text), &views))
	return views
}

func TestConnection_HandshakeTimeout(t *testing.T) {
	env := newLiveEnv(t, 100*time.Millisecond)
	conn := env.dial(t, TopicMatch)

	require.Equal(t, TypeAccept, readEnvelope(t, conn).Type)
	expectClosed(t, conn, reasonTimeout)
}

func TestConnection_HandshakeFailuresClose(t *testing.T) {
	env := newLiveEnv(t, 5*time.Second)
	tests := []struct {
		name   string
		topic  string
		msg    string
		reason string
	}{
		{name: "malformed json", topic: TopicMatch, msg: `{"token":`, reason: reasonMalformed},
		{name: "missing token", topic: TopicMatch, msg: `{"action":"subscribe","group":1}`, reason: reasonMalformed},
		{name: "unknown action", topic: TopicMatch, msg: `{"token":"manager-token","action":"listen","group":1}`, reason: reasonUnknownAction},
		{name: "unknown token", topic: TopicMatch, msg: `{"token":"nope","action":"subscribe","group":1}`, reason: reasonInvalidToken},
		{name: "admin as non staff", topic: TopicAdmin, msg: `{"token":"manager-token","action":"subscribe","group":20}`, reason: reasonForbidden},
		{name: "groups as non staff", topic: TopicGroups, msg: `{"token":"manager-token","action":"subscribe","group":20}`, reason: reasonForbidden},
		{name: "someone else's manager group", topic: TopicManager, msg: `{"token":"manager-token","action":"subscribe","group":30}`, reason: reasonForbidden},
		{name: "manager group without a team", topic: TopicManager, msg: `{"token":"staff-token","action":"subscribe","group":10}`, reason: reasonForbidden},
		{name: "missing tournament", topic: TopicMatch, msg: `{"token":"manager-token","action":"subscribe","group":999}`, reason: reasonSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t, tt.topic)
			require.Equal(t, TypeAccept, readEnvelope(t, conn).Type)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.msg)))
			// No snapshot is sent before the close.
			expectClosed(t, conn, tt.reason)
		})
	}
}

func TestConnection_MatchRoundTrip(t *testing.T) {
	env := newLiveEnv(t, 5*time.Second)
	tournamentID := env.tournament.ID

	manager := env.dial(t, TopicMatch)
	subscribe(t, manager, managerToken, tournamentID)
	assert.Empty(t, readMatches(t, manager))

	watcher := env.dial(t, TopicMatch)
	subscribe(t, watcher, staffToken, strconv.Itoa(tournamentID))
	assert.Empty(t, readMatches(t, watcher))

	require.NoError(t, manager.WriteJSON(map[string]any{"action": "create"}))
	created := readMatches(t, manager)
	require.Len(t, created, 1)
	assert.Equal(t, created, readMatches(t, watcher))

	matchID := created[0].ID
	require.NoError(t, manager.WriteJSON(map[string]any{
		"action": "update", "updated_field": matchID, "updated_column": "player_one", "updated_value": env.players[0].ID,
	}))
	views := readMatches(t, watcher)
	require.NotNil(t, views[0].PlayerOne)
	assert.Equal(t, "home1", views[0].PlayerOne.Username)
	readMatches(t, manager)

	// Malformed JSON after the handshake gets an empty reply and the
	// connection stays open.
	require.NoError(t, manager.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	reply := readEnvelope(t, manager)
	assert.Equal(t, TypeSend, reply.Type)
	assert.Equal(t, `{}`, reply.Text)

	require.NoError(t, manager.WriteJSON(map[string]any{"action": "delete", "match_id": matchID}))
	reply = readEnvelope(t, manager)
	assert.Contains(t, reply.Text, `"error"`)

	require.NoError(t, watcher.WriteJSON(map[string]any{"action": "delete", "match_id": matchID}))
	assert.Empty(t, readMatches(t, watcher))
	assert.Empty(t, readMatches(t, manager))
}

func TestConnection_InfoIsPushOnly(t *testing.T) {
	env := newLiveEnv(t, 5*time.Second)
	conn := env.dial(t, TopicInfo)

	require.Equal(t, TypeAccept, readEnvelope(t, conn).Type)
	snapshot := readEnvelope(t, conn)
	require.Equal(t, TypeSend, snapshot.Type)
	var info models.PublicInfo
	require.NoError(t, json.Unmarshal([]byte(snapshot.Text), &info))
	assert.Equal(t, models.PhaseStarted, info.Phase)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe"}`)))
	expectClosed(t, conn, reasonPushOnly)
}

func TestConnection_ManagerFinishFlow(t *testing.T) {
	env := newLiveEnv(t, 5*time.Second)
	tournamentID := env.tournament.ID

	home := env.dial(t, TopicManager)
	subscribe(t, home, managerToken, 20)
	away := env.dial(t, TopicManager)
	subscribe(t, away, opponentToken, nil)

	readStatus := func(conn *websocket.Conn) models.ManagerStatus {
		env := readEnvelope(t, conn)
		require.Equal(t, TypeSend, env.Type)
		var status models.ManagerStatus
		require.NoError(t, json.Unmarshal([]byte(env.Text), &status))
		return status
	}
	readStatus(home)
	readStatus(away)

	require.NoError(t, home.WriteJSON(map[string]any{
		"action": "update", "tournament_id": tournamentID, "updated_column": "ask_for_finished", "updated_value": true,
	}))
	status := readStatus(away)
	require.Len(t, status.Tournaments, 1)
	assert.True(t, status.Tournaments[0].OpponentAskedToFinish)
	assert.True(t, readStatus(home).Tournaments[0].AskedForFinish)

	require.NoError(t, away.WriteJSON(map[string]any{
		"action": "update", "tournament_id": tournamentID, "updated_column": "ask_for_finished", "updated_value": true,
	}))
	assert.True(t, readStatus(away).Tournaments[0].IsFinished)
	assert.True(t, readStatus(home).Tournaments[0].IsFinished)
}

func TestConnection_GroupsTopicIsReadOnly(t *testing.T) {
	env := newLiveEnv(t, 5*time.Second)
	conn := env.dial(t, TopicGroups)
	subscribe(t, conn, staffToken, 10)
	require.Equal(t, TypeSend, readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "update"}))
	reply := readEnvelope(t, conn)
	assert.Contains(t, reply.Text, ErrReadOnlyTopic.Error())
}
