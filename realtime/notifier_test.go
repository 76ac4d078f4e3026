package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EllectronChik/server7x/models"
)

func TestNotifier_PublishReturnsAfterRefresh(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()
	counter := &counterSnapshot{}
	m := &fakeMember{id: "m"}
	require.NoError(t, hub.Subscribe(ctx, "match_4", m, counter.listener(func(ev models.ChangeEvent) bool {
		return ev.TournamentID == 4
	})))

	notifier := NewNotifier(hub, discardLogger())
	require.NoError(t, notifier.Start(ctx))
	defer notifier.Close()

	notifier.Publish(ctx,
		models.ChangeEvent{Entity: models.EntityMatch, ID: 1, TournamentID: 4},
		models.ChangeEvent{Entity: models.EntityMatch, ID: 2, TournamentID: 5},
		models.ChangeEvent{Entity: models.EntityTournament, ID: 4, TournamentID: 4},
	)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, m.texts(t))
}

func TestNotifier_PublishAfterCloseIsDropped(t *testing.T) {
	notifier := NewNotifier(newTestHub(), discardLogger())
	require.NoError(t, notifier.Start(context.Background()))
	require.NoError(t, notifier.Close())

	assert.NotPanics(t, func() {
		notifier.Publish(context.Background(), models.ChangeEvent{Entity: models.EntitySeason, ID: 1})
	})
}
