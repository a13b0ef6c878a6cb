package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Store interface {
	SetPresence(ctx context.Context, user string, ttl time.Duration, now time.Time) error
	ClearPresence(ctx context.Context, user string, now time.Time) error
}

type key struct {
	user  string
	scope string
}

// Reaper tracks how many live connections each user holds per scope. When
// the last one goes away it waits out a grace window before declaring the
// user gone, so a page reload does not end a game or a chat.
type Reaper struct {
	store Store
	ttl   time.Duration
	grace time.Duration
	log   *zap.Logger
	now   func() time.Time

	mu      sync.Mutex
	conns   map[key]int
	timers  map[key]*time.Timer
	stopped bool
	running sync.WaitGroup
}

func NewReaper(store Store, ttl, grace time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		store:  store,
		ttl:    ttl,
		grace:  grace,
		log:    log.Named("presence"),
		now:    time.Now,
		conns:  make(map[key]int),
		timers: make(map[key]*time.Timer),
	}
}

// Track registers a new connection. It reports whether the connection
// cancelled a pending grace timer, i.e. the user came back in time. After
// Stop it does nothing.
func (r *Reaper) Track(ctx context.Context, user, scope string) (bool, error) {
	k := key{user, scope}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false, nil
	}
	reconnected := false
	if t, ok := r.timers[k]; ok {
		t.Stop()
		delete(r.timers, k)
		reconnected = true
	}
	r.conns[k]++
	r.mu.Unlock()

	if reconnected {
		r.log.Info("reconnected within grace", zap.String("user", user), zap.String("scope", scope))
	}
	return reconnected, r.store.SetPresence(ctx, user, r.ttl, r.now())
}

// Heartbeat refreshes the user's presence TTL.
func (r *Reaper) Heartbeat(ctx context.Context, user string) error {
	return r.store.SetPresence(ctx, user, r.ttl, r.now())
}

// Release drops one connection. When it was the last one for the scope a
// grace timer starts; if nobody reconnects before it fires, presence is
// cleared (unless the user is still connected elsewhere) and onGone runs.
func (r *Reaper) Release(user, scope string, onGone func()) {
	k := key{user, scope}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if r.conns[k] > 1 {
		r.conns[k]--
		return
	}
	delete(r.conns, k)

	if old, ok := r.timers[k]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		if r.stopped || r.timers[k] != timer {
			r.mu.Unlock()
			return
		}
		delete(r.timers, k)
		elsewhere := r.connectedLocked(user)
		r.running.Add(1)
		r.mu.Unlock()
		defer r.running.Done()

		if !elsewhere {
			if err := r.store.ClearPresence(context.Background(), user, r.now()); err != nil {
				r.log.Warn("clearing presence failed", zap.String("user", user), zap.Error(err))
			}
		}
		r.log.Info("grace expired", zap.String("user", user), zap.String("scope", scope))
		if onGone != nil {
			onGone()
		}
	})
	r.timers[k] = timer
}

// Pending reports whether a grace timer is running for user in scope.
func (r *Reaper) Pending(user, scope string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key{user, scope}]
	return ok
}

func (r *Reaper) connectedLocked(user string) bool {
	for k, n := range r.conns {
		if k.user == user && n > 0 {
			return true
		}
	}
	return false
}

// Stop cancels every pending grace timer without running its callback and
// waits for callbacks already under way. Later Track and Release calls are
// ignored.
func (r *Reaper) Stop() {
	r.mu.Lock()
	r.stopped = true
	for k, t := range r.timers {
		t.Stop()
		delete(r.timers, k)
	}
	r.mu.Unlock()

	r.running.Wait()
}
