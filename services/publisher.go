package services

import (
	"context"

	"github.com/EllectronChik/server7x/models"
)

// ChangePublisher receives committed entity writes. Publish is called
// after the unit of work commits and returns once subscribers were told.
type ChangePublisher interface {
	Publish(ctx context.Context, events ...models.ChangeEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...models.ChangeEvent) {}

// NopPublisher drops every event.
func NopPublisher() ChangePublisher {
	return nopPublisher{}
}

func tournamentEvent(t *models.Tournament) models.ChangeEvent {
	ev := models.ChangeEvent{Entity: models.EntityTournament, ID: t.ID, TournamentID: t.ID, SeasonID: t.SeasonID}
	for _, id := range []*int{t.TeamOneID, t.TeamTwoID} {
		if id != nil {
			ev.TeamIDs = append(ev.TeamIDs, *id)
		}
	}
	return ev
}

func matchEvent(m *models.Match, t *models.Tournament) models.ChangeEvent {
	ev := tournamentEvent(t)
	ev.Entity = models.EntityMatch
	ev.ID = m.ID
	return ev
}

func seasonEvent(s *models.Season) models.ChangeEvent {
	return models.ChangeEvent{Entity: models.EntitySeason, ID: s.ID, SeasonID: s.ID}
}
