package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/services"
)

// Topic names, also used as group key prefixes.
const (
	TopicMatch   = "match"
	TopicManager = "manager"
	TopicAdmin   = "admin"
	TopicGroups  = "groups"
	TopicInfo    = "info"
)

// Binding is an authorized subscription: the group to join, how the group
// recomputes its snapshot, and how actions sent on it are applied.
type Binding struct {
	Group    string
	Listener Listener
	Handle   func(ctx context.Context, caller models.Identity, msg *Message) error
}

type Topic interface {
	Name() string
	// Anonymous topics skip the handshake and bind on open.
	Anonymous() bool
	// Bind authorizes caller for the requested group parameter.
	Bind(ctx context.Context, caller models.Identity, param string) (*Binding, error)
}

type topic struct {
	name      string
	anonymous bool
	bind      func(ctx context.Context, caller models.Identity, param string) (*Binding, error)
}

func (t *topic) Name() string    { return t.name }
func (t *topic) Anonymous() bool { return t.anonymous }

func (t *topic) Bind(ctx context.Context, caller models.Identity, param string) (*Binding, error) {
	return t.bind(ctx, caller, param)
}

func groupKey(topic string, param any) string {
	return fmt.Sprintf("%s_%v", topic, param)
}

func anyChange(models.ChangeEvent) bool { return true }

// ownGroup checks that a per-user group belongs to the caller. An empty
// parameter means the caller's own group.
func ownGroup(caller models.Identity, param string) (int, error) {
	if caller.Anonymous() {
		return 0, ErrForbiddenGroup
	}
	if param == "" {
		return caller.UserID, nil
	}
	id, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadGroup, param)
	}
	if id != caller.UserID {
		return 0, ErrForbiddenGroup
	}
	return id, nil
}

func updateTarget(msg *Message, idField json.RawMessage, name string) (int, error) {
	id, err := parseID(idField, name)
	if err != nil {
		return 0, err
	}
	if msg.UpdatedColumn == "" {
		return 0, fmt.Errorf("%w: updated_column is required", ErrMalformedMessage)
	}
	return id, nil
}

// MatchTopic pushes the match list of one tournament and applies match
// edits made by its participants.
func MatchTopic(snapshots services.SnapshotService, matches services.MatchService) Topic {
	return &topic{name: TopicMatch, bind: func(ctx context.Context, caller models.Identity, param string) (*Binding, error) {
		tournamentID, err := strconv.Atoi(param)
		if err != nil || tournamentID <= 0 {
			return nil, fmt.Errorf("%w: tournament id %q", ErrBadGroup, param)
		}
		return &Binding{
			Group: groupKey(TopicMatch, tournamentID),
			Listener: Listener{
				Topic: TopicMatch,
				Interested: func(ev models.ChangeEvent) bool {
					return ev.TournamentID == tournamentID || ev.Entity == models.EntitySeason
				},
				Snapshot: func(ctx context.Context) (any, error) {
					return snapshots.MatchList(ctx, tournamentID)
				},
			},
			Handle: func(ctx context.Context, caller models.Identity, msg *Message) error {
				switch msg.Action {
				case ActionUpdate:
					matchID, err := updateTarget(msg, msg.UpdatedField, "updated_field")
					if err != nil {
						return err
					}
					_, err = matches.Patch(ctx, caller, tournamentID, matchID, msg.UpdatedColumn, msg.UpdatedValue)
					return err
				case ActionCreate:
					_, err := matches.Create(ctx, caller, tournamentID)
					return err
				case ActionDelete:
					matchID, err := parseID(msg.MatchID, "match_id")
					if err != nil {
						return err
					}
					return matches.Delete(ctx, caller, tournamentID, matchID)
				}
				return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
			},
		}, nil
	}}
}

// ManagerTopic pushes the tournaments of the caller's team and applies the
// team manager's finish and scheduling actions.
func ManagerTopic(snapshots services.SnapshotService, tournaments services.TournamentService) Topic {
	return &topic{name: TopicManager, bind: func(ctx context.Context, caller models.Identity, param string) (*Binding, error) {
		userID, err := ownGroup(caller, param)
		if err != nil {
			return nil, err
		}
		team, err := snapshots.ManagedTeam(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrForbiddenGroup, err)
		}
		teamID := team.ID
		return &Binding{
			Group: groupKey(TopicManager, userID),
			Listener: Listener{
				Topic: TopicManager,
				Interested: func(ev models.ChangeEvent) bool {
					return ev.Entity == models.EntitySeason || ev.Touches(teamID)
				},
				Snapshot: func(ctx context.Context) (any, error) {
					return snapshots.ManagerStatus(ctx, userID)
				},
			},
			Handle: func(ctx context.Context, caller models.Identity, msg *Message) error {
				if msg.Action != ActionUpdate {
					return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
				}
				tournamentID, err := updateTarget(msg, msg.TournamentID, "tournament_id")
				if err != nil {
					return err
				}
				_, err = tournaments.UpdateAsManager(ctx, caller, tournamentID, msg.UpdatedColumn, msg.UpdatedValue)
				return err
			},
		}, nil
	}}
}

// AdminTopic pushes the staff dashboard of the active season and applies
// staff tournament actions.
func AdminTopic(snapshots services.SnapshotService, tournaments services.TournamentService) Topic {
	return &topic{name: TopicAdmin, bind: func(ctx context.Context, caller models.Identity, param string) (*Binding, error) {
		if !caller.IsStaff {
			return nil, ErrForbiddenGroup
		}
		userID, err := ownGroup(caller, param)
		if err != nil {
			return nil, err
		}
		return &Binding{
			Group: groupKey(TopicAdmin, userID),
			Listener: Listener{
				Topic:      TopicAdmin,
				Interested: anyChange,
				Snapshot: func(ctx context.Context) (any, error) {
					return snapshots.AdminDashboard(ctx)
				},
			},
			Handle: func(ctx context.Context, caller models.Identity, msg *Message) error {
				switch msg.Action {
				case ActionCreate:
					var req services.CreateRequest
					if err := json.Unmarshal(msg.Raw, &req); err != nil {
						return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
					}
					_, err := tournaments.Create(ctx, caller, req)
					return err
				case ActionUpdate:
					tournamentID, err := updateTarget(msg, msg.TournamentID, "tournament_id")
					if err != nil {
						return err
					}
					_, err = tournaments.UpdateAsAdmin(ctx, caller, tournamentID, msg.UpdatedColumn, msg.UpdatedValue)
					return err
				case ActionDelete:
					_, err := tournaments.DeleteSeasonTournaments(ctx, caller)
					return err
				}
				return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
			},
		}, nil
	}}
}

// GroupsTopic pushes group stage standings to staff. It is read-only.
func GroupsTopic(snapshots services.SnapshotService) Topic {
	return &topic{name: TopicGroups, bind: func(ctx context.Context, caller models.Identity, param string) (*Binding, error) {
		if !caller.IsStaff {
			return nil, ErrForbiddenGroup
		}
		userID, err := ownGroup(caller, param)
		if err != nil {
			return nil, err
		}
		return &Binding{
			Group: groupKey(TopicGroups, userID),
			Listener: Listener{
				Topic:      TopicGroups,
				Interested: anyChange,
				Snapshot: func(ctx context.Context) (any, error) {
					return snapshots.GroupStandings(ctx)
				},
			},
			Handle: func(context.Context, models.Identity, *Message) error {
				return ErrReadOnlyTopic
			},
		}, nil
	}}
}

// InfoTopic pushes the public information feed. Every connection gets a
// group of its own.
func InfoTopic(snapshots services.SnapshotService) Topic {
	return &topic{name: TopicInfo, anonymous: true, bind: func(_ context.Context, _ models.Identity, session string) (*Binding, error) {
		return &Binding{
			Group: groupKey(TopicInfo, session),
			Listener: Listener{
				Topic:      TopicInfo,
				Interested: anyChange,
				Snapshot: func(ctx context.Context) (any, error) {
					return snapshots.PublicInfo(ctx)
				},
			},
		}, nil
	}}
}
