package rooms

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// ErrNotAttached is returned when joining with a connection that was never
// attached or has already been detached.
var ErrNotAttached = errors.New("connection not attached")

// Result reports the outcome of one broadcast.
type Result struct {
	Delivered int
	Dropped   int
}

// Registry owns connection membership for every room. One mutex serializes
// membership changes and broadcasts, so members see a room's events in the
// order they were issued and a detached connection never receives another
// frame.
type Registry struct {
	policy Policy
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[string]map[*Conn]struct{}
	conns  map[*Conn]map[string]struct{}
	closed bool
}

func NewRegistry(policy Policy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		policy: policy,
		logger: logger,
		rooms:  make(map[string]map[*Conn]struct{}),
		conns:  make(map[*Conn]map[string]struct{}),
	}
}

// Attach registers an authenticated connection with no room memberships.
func (r *Registry) Attach(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("registry closed")
	}
	if _, ok := r.conns[c]; !ok {
		r.conns[c] = make(map[string]struct{})
		observability.ConnectionsActive.Inc()
	}
	return nil
}

// Join adds c to room. It is idempotent and fails with Forbidden when the
// connection's identity is not entitled to the room.
func (r *Registry) Join(ctx context.Context, c *Conn, room string) error {
	if !r.attached(c) {
		return ErrNotAttached
	}
	// entitlement may hit the order store, so it runs outside the lock
	if err := r.policy.CanJoin(ctx, c.Identity(), room); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	memberships, ok := r.conns[c]
	if !ok {
		return ErrNotAttached
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		r.rooms[room] = members
		observability.RoomsActive.Inc()
	}
	members[c] = struct{}{}
	memberships[room] = struct{}{}
	return nil
}

func (r *Registry) attached(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[c]
	return ok
}

// Leave removes c from room. Leaving a room the connection is not in is a
// no-op.
func (r *Registry) Leave(c *Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c, room)
}

func (r *Registry) leaveLocked(c *Conn, room string) {
	if memberships, ok := r.conns[c]; ok {
		delete(memberships, room)
	}
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
		observability.RoomsActive.Dec()
	}
}

// Detach removes c from every room synchronously. After Detach returns no
// broadcast can reach c.
func (r *Registry) Detach(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	memberships, ok := r.conns[c]
	if !ok {
		return
	}
	for room := range memberships {
		r.leaveLocked(c, room)
	}
	delete(r.conns, c)
	observability.ConnectionsActive.Dec()
}

// Broadcast fans ev out to the connections in room at call time. An empty
// or unknown room is a no-op.
func (r *Registry) Broadcast(room string, ev models.Event) Result {
	frame, err := ev.Encode()
	if err != nil {
		r.logger.Error("broadcast_encode_failed", "room", room, "event", ev.Name, "error", err)
		return Result{}
	}
	return r.BroadcastFrame(room, frame)
}

// BroadcastFrame fans out an already encoded frame.
func (r *Registry) BroadcastFrame(room string, frame []byte) Result {
	var res Result
	r.mu.Lock()
	for c := range r.rooms[room] {
		if c.Enqueue(frame) {
			res.Delivered++
		} else {
			res.Dropped++
		}
	}
	r.mu.Unlock()

	observability.BroadcastsTotal.Inc()
	observability.FramesDelivered.Add(float64(res.Delivered))
	if res.Dropped > 0 {
		observability.FramesDropped.Add(float64(res.Dropped))
		r.logger.Warn("broadcast_dropped", "room", room, "dropped", res.Dropped)
	}
	return res
}

// Members returns the number of connections currently in room.
func (r *Registry) Members(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// Rooms lists the rooms c is in, sorted.
func (r *Registry) Rooms(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns[c]))
	for room := range r.conns[c] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns room -> member count (for admin tooling).
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.rooms))
	for room, members := range r.rooms {
		out[room] = len(members)
	}
	return out
}

// Close detaches and closes every connection. Later Attach calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.closed = true
	r.mu.Unlock()

	for _, c := range conns {
		r.Detach(c)
		c.Close()
	}
}
