package realtime

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/EllectronChik/server7x/models"
)

// refreshConcurrency bounds how many groups recompute at once after a change.
const refreshConcurrency = 8

// Member is a receiver registered in broadcast groups.
type Member interface {
	ID() string
	// Send queues a frame without blocking. It reports false when the frame
	// was not accepted.
	Send(frame []byte) bool
	Close(reason string)
}

// Listener recomputes the snapshot of a group when a relevant change is
// committed.
type Listener struct {
	Topic      string
	Interested func(ev models.ChangeEvent) bool
	Snapshot   func(ctx context.Context) (any, error)
}

type group struct {
	key      string
	listener Listener
	members  map[string]Member

	// sendMu keeps frames of one group in the order they were computed.
	sendMu sync.Mutex
}

// Hub is the broadcast group registry. Membership changes are serialized by
// one lock; delivery is serialized per group only.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]*group

	metrics *Metrics
	logger  *slog.Logger
}

func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		groups:  make(map[string]*group),
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe adds m to the group and sends it the group's current snapshot.
// The first subscriber's listener serves the whole group. m is a member
// before the snapshot is computed, so no change committed in between is
// missed.
func (h *Hub) Subscribe(ctx context.Context, key string, m Member, l Listener) error {
	h.mu.Lock()
	g, ok := h.groups[key]
	if !ok {
		g = &group{key: key, listener: l, members: make(map[string]Member)}
		h.groups[key] = g
	}
	g.members[m.ID()] = m
	size := len(g.members)
	h.mu.Unlock()

	h.logger.Debug("member subscribed", slog.String("group", key), slog.String("conn_id", m.ID()), slog.Int("members", size))

	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	frame, err := h.render(ctx, g)
	if err != nil {
		h.Unsubscribe(key, m)
		return err
	}
	if !m.Send(frame) {
		h.metrics.dropped(g.listener.Topic)
	}
	return nil
}

func (h *Hub) Unsubscribe(key string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[key]
	if !ok {
		return
	}
	if current, ok := g.members[m.ID()]; !ok || current != m {
		return
	}
	delete(g.members, m.ID())
	if len(g.members) == 0 {
		delete(h.groups, key)
		h.logger.Debug("group removed", slog.String("group", key))
	}
}

// Broadcast sends payload to every member of the group.
func (h *Hub) Broadcast(key string, payload any) error {
	frame, err := Encode(TypeSend, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	g, ok := h.groups[key]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	h.deliver(g, frame)
	return nil
}

// Refresh recomputes and pushes the snapshot of every group interested in
// ev. It returns once all of them were handed to their members.
func (h *Hub) Refresh(ctx context.Context, ev models.ChangeEvent) {
	h.mu.RLock()
	targets := make([]*group, 0, len(h.groups))
	for _, g := range h.groups {
		if g.listener.Interested == nil || g.listener.Interested(ev) {
			targets = append(targets, g)
		}
	}
	h.mu.RUnlock()

	var wg errgroup.Group
	wg.SetLimit(refreshConcurrency)
	for _, g := range targets {
		wg.Go(func() error {
			g.sendMu.Lock()
			defer g.sendMu.Unlock()
			frame, err := h.render(ctx, g)
			if err != nil {
				h.logger.Warn("snapshot refresh failed",
					slog.String("group", g.key),
					slog.String("topic", g.listener.Topic),
					slog.Any("error", err))
				return nil
			}
			h.deliver(g, frame)
			return nil
		})
	}
	_ = wg.Wait()
}

// Shutdown closes every member of every group.
func (h *Hub) Shutdown(reason string) {
	h.mu.RLock()
	var members []Member
	for _, g := range h.groups {
		for _, m := range g.members {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()

	for _, m := range members {
		m.Close(reason)
	}
}

// Connections counts members across every group.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, g := range h.groups {
		n += len(g.members)
	}
	return n
}

// Members returns the number of members of a group.
func (h *Hub) Members(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if g, ok := h.groups[key]; ok {
		return len(g.members)
	}
	return 0
}

func (h *Hub) render(ctx context.Context, g *group) ([]byte, error) {
	snapshot, err := g.listener.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Encode(TypeSend, snapshot)
}

// deliver must be called with g.sendMu held. A member that does not accept
// the frame misses it; the others are not affected.
func (h *Hub) deliver(g *group, frame []byte) {
	h.mu.RLock()
	members := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m)
	}
	h.mu.RUnlock()

	for _, m := range members {
		if !m.Send(frame) {
			h.metrics.dropped(g.listener.Topic)
		}
	}
	h.metrics.broadcast(g.listener.Topic)
}
