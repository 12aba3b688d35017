package presence

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"
)

const activityTimeout = 5 * time.Second

// Entry is the live connection currently holding a user's presence.
type Entry struct {
	ConnId      string
	ConnectedAt time.Time
}

// ActivityRecorder persists connect and disconnect activity outside the
// process. Failures are logged by the registry and otherwise ignored.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, userId string, online bool, at time.Time) error
}

// ActivityReader is implemented by recorders that can report when a user
// was last active.
type ActivityReader interface {
	LastActive(ctx context.Context, userId string) (time.Time, bool, error)
}

type nopRecorder struct{}

func (nopRecorder) RecordActivity(context.Context, string, bool, time.Time) error { return nil }

type activity struct {
	userId string
	online bool
	at     time.Time
}

// Registry tracks which users hold a live realtime connection. It is
// process scoped and lost on restart. The last Register for a user wins.
type Registry struct {
	log      *log.Logger
	recorder ActivityRecorder

	mu      sync.RWMutex
	entries map[string]Entry
	running bool

	activity chan activity
	done     chan struct{}
}

func NewRegistry(logger *log.Logger, recorder ActivityRecorder) *Registry {
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Registry{
		log:      logger,
		recorder: recorder,
		entries:  make(map[string]Entry),
	}
}

// Start begins forwarding activity to the recorder.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.activity = make(chan activity, 256)
	r.done = make(chan struct{})
	r.running = true

	go r.recordActivity(r.activity, r.done)
}

// Stop drains pending activity and forgets every entry.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.activity)
	done := r.done
	r.entries = make(map[string]Entry)
	r.mu.Unlock()

	<-done
}

func (r *Registry) recordActivity(ch <-chan activity, done chan<- struct{}) {
	defer close(done)

	for a := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), activityTimeout)
		if err := r.recorder.RecordActivity(ctx, a.userId, a.online, a.at); err != nil {
			r.log.Printf("record activity for user %q: %v", a.userId, err)
		}
		cancel()
	}
}

// queueActivity must be called with r.mu held.
func (r *Registry) queueActivity(userId string, online bool, at time.Time) {
	if !r.running {
		return
	}

	select {
	case r.activity <- activity{userId: userId, online: online, at: at}:
	default:
		r.log.Printf("activity queue full, dropping update for user %q", userId)
	}
}

func (r *Registry) Register(userId, connId string) Entry {
	e := Entry{ConnId: connId, ConnectedAt: time.Now().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[userId] = e
	r.queueActivity(userId, true, e.ConnectedAt)

	return e
}

func (r *Registry) Unregister(userId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[userId]; !ok {
		return
	}

	delete(r.entries, userId)
	r.queueActivity(userId, false, time.Now().UTC())
}

// UnregisterConn removes the user's entry only while it still belongs to
// connId, so a stale connection closing does not take down a newer one.
func (r *Registry) UnregisterConn(userId, connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userId]
	if !ok || e.ConnId != connId {
		return false
	}

	delete(r.entries, userId)
	r.queueActivity(userId, false, time.Now().UTC())

	return true
}

func (r *Registry) IsOnline(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[userId]
	return ok
}

func (r *Registry) Entry(userId string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userId]
	return e, ok
}

// ListOnline returns the ids of every online user in sorted order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.entries))
	for userId := range r.entries {
		users = append(users, userId)
	}
	r.mu.RUnlock()

	slices.Sort(users)
	return users
}

// LastActive reports when the user was last seen online, if the recorder
// keeps that information.
func (r *Registry) LastActive(ctx context.Context, userId string) (time.Time, bool, error) {
	reader, ok := r.recorder.(ActivityReader)
	if !ok {
		return time.Time{}, false, nil
	}

	return reader.LastActive(ctx, userId)
}
