package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iamasit07/broadside/internal/domain"
	"github.com/iamasit07/broadside/pkg/uid"
	"go.uber.org/zap"
)

type Store interface {
	AppendChat(ctx context.Context, threadID string, msg domain.ChatMessage, limit int) error
	ChatHistory(ctx context.Context, threadID string) ([]domain.ChatMessage, error)
	TouchThread(ctx context.Context, meta domain.ThreadMeta) error
	Threads(ctx context.Context) ([]domain.ThreadMeta, error)
	DeleteThread(ctx context.Context, threadID string) error
	FlagUnseen(ctx context.Context, user, peer string) error
	ClearUnseen(ctx context.Context, user, peer string) error
	Unseen(ctx context.Context, user string) ([]string, error)
	IsPresent(ctx context.Context, user string) (bool, error)
	LastSeen(ctx context.Context, user string) (time.Time, error)
}

type Broadcaster interface {
	SendTo(user, scope string, msg domain.ServerMessage)
}

// Thread identifies one conversation and the connection scope its
// participants read it from.
type Thread struct {
	ID           string
	Scope        string
	Participants [2]string
}

func LobbyThread(a, b string) Thread {
	return Thread{
		ID:           uid.LobbyThreadID(a, b),
		Scope:        domain.ScopeLobby,
		Participants: uid.SortedPair(a, b),
	}
}

func GameThread(gameID string, players [2]string) Thread {
	return Thread{
		ID:           uid.GameThreadID(gameID),
		Scope:        domain.GameScope(gameID),
		Participants: players,
	}
}

func (t Thread) Lobby() bool {
	return t.Scope == domain.ScopeLobby
}

func (t Thread) Has(user string) bool {
	return t.Participants[0] == user || t.Participants[1] == user
}

func (t Thread) Peer(user string) string {
	if t.Participants[0] == user {
		return t.Participants[1]
	}
	return t.Participants[0]
}

type viewKey struct {
	user  string
	scope string
}

// Router appends to bounded chat threads and delivers each line to
// whoever is looking at the thread. Lobby participants who are elsewhere
// get a notification flag instead.
type Router struct {
	store     Store
	out       Broadcaster
	log       *zap.Logger
	limit     int
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	viewing map[viewKey]string
	locks   map[string]*sync.Mutex
}

func NewRouter(store Store, out Broadcaster, limit int, retention time.Duration, log *zap.Logger) *Router {
	return &Router{
		store:     store,
		out:       out,
		log:       log.Named("chat"),
		limit:     limit,
		retention: retention,
		now:       time.Now,
		viewing:   make(map[viewKey]string),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (r *Router) lock(threadID string) func() {
	r.mu.Lock()
	l, ok := r.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[threadID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (r *Router) viewer(user string, t Thread) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewing[viewKey{user, t.Scope}] == t.ID
}

// Join makes user a viewer of t and returns the history visible to them.
// Unseen flags for the thread are cleared.
func (r *Router) Join(ctx context.Context, user string, t Thread) ([]domain.ChatMessage, error) {
	if !t.Has(user) {
		return nil, domain.ErrNotParticipant
	}

	r.mu.Lock()
	r.viewing[viewKey{user, t.Scope}] = t.ID
	r.mu.Unlock()

	if t.Lobby() {
		if err := r.store.ClearUnseen(ctx, user, t.Peer(user)); err != nil {
			return nil, fmt.Errorf("clearing unseen flag: %w", err)
		}
	}
	return r.History(ctx, user, t)
}

// Part stops user viewing whatever thread they had open in scope.
func (r *Router) Part(user, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.viewing, viewKey{user, scope})
}

func (r *Router) History(ctx context.Context, user string, t Thread) ([]domain.ChatMessage, error) {
	history, err := r.store.ChatHistory(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("loading chat %s: %w", t.ID, err)
	}
	return domain.FilterVisible(history, user), nil
}

// Send appends a user line to t and fans it out.
func (r *Router) Send(ctx context.Context, t Thread, sender, body string) error {
	if !t.Has(sender) {
		return domain.ErrNotParticipant
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ErrEmptyMessage
	}

	return r.append(ctx, t, domain.ChatMessage{
		Sender:     sender,
		Kind:       domain.KindUser,
		Body:       body,
		Visibility: domain.Public,
		Timestamp:  r.now(),
	})
}

// SendSystem appends a system line. A non-empty recipient makes it private
// to that participant.
func (r *Router) SendSystem(ctx context.Context, t Thread, body, recipient string) error {
	msg := domain.ChatMessage{
		Sender:     domain.SenderSystem,
		Kind:       domain.KindSystem,
		Body:       body,
		Visibility: domain.Public,
		Timestamp:  r.now(),
	}
	if recipient != "" {
		msg.Visibility = domain.Private
		msg.Recipient = recipient
	}
	return r.append(ctx, t, msg)
}

func (r *Router) append(ctx context.Context, t Thread, msg domain.ChatMessage) error {
	unlock := r.lock(t.ID)
	defer unlock()

	if err := r.store.AppendChat(ctx, t.ID, msg, r.limit); err != nil {
		return fmt.Errorf("appending to chat %s: %w", t.ID, err)
	}
	meta := domain.ThreadMeta{
		ID:           t.ID,
		Scope:        t.Scope,
		Participants: t.Participants[:],
		LastActivity: msg.Timestamp,
	}
	if err := r.store.TouchThread(ctx, meta); err != nil {
		return fmt.Errorf("touching chat %s: %w", t.ID, err)
	}

	for _, p := range t.Participants {
		if !msg.VisibleTo(p) {
			continue
		}
		if p == msg.Sender || r.viewer(p, t) {
			r.out.SendTo(p, t.Scope, domain.ChatEntryMessage(msg))
			continue
		}
		if !t.Lobby() || msg.Kind != domain.KindUser {
			continue
		}
		if err := r.store.FlagUnseen(ctx, p, msg.Sender); err != nil {
			r.log.Warn("flagging unseen chat failed", zap.String("user", p), zap.Error(err))
			continue
		}
		r.out.SendTo(p, domain.ScopeLobby, domain.ChatNotifyMessage(msg.Sender))
	}
	return nil
}

// PendingNotifications lists the peers user has unread lobby chat from.
func (r *Router) PendingNotifications(ctx context.Context, user string) ([]string, error) {
	return r.store.Unseen(ctx, user)
}

func (r *Router) Delete(ctx context.Context, t Thread) error {
	unlock := r.lock(t.ID)
	err := r.store.DeleteThread(ctx, t.ID)
	unlock()

	if err == nil && t.Lobby() {
		a, b := t.Participants[0], t.Participants[1]
		if err = r.store.ClearUnseen(ctx, a, b); err == nil {
			err = r.store.ClearUnseen(ctx, b, a)
		}
	}

	r.mu.Lock()
	delete(r.locks, t.ID)
	r.mu.Unlock()
	return err
}

// Sweep purges threads nobody has touched within the retention window and
// whose participants have all been absent at least as long. It returns the
// number of threads removed.
func (r *Router) Sweep(ctx context.Context) (int, error) {
	metas, err := r.store.Threads(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing chat threads: %w", err)
	}

	now := r.now()
	purged := 0
	for _, meta := range metas {
		if now.Sub(meta.LastActivity) < r.retention {
			continue
		}
		stale, err := r.abandoned(ctx, meta.Participants, now)
		if err != nil {
			return purged, err
		}
		if !stale {
			continue
		}

		t := Thread{ID: meta.ID, Scope: meta.Scope}
		copy(t.Participants[:], meta.Participants)
		if err := r.Delete(ctx, t); err != nil {
			return purged, fmt.Errorf("purging chat %s: %w", meta.ID, err)
		}
		purged++
		r.log.Info("purged chat thread", zap.String("thread", meta.ID))
	}
	return purged, nil
}

func (r *Router) abandoned(ctx context.Context, participants []string, now time.Time) (bool, error) {
	for _, p := range participants {
		present, err := r.store.IsPresent(ctx, p)
		if err != nil {
			return false, err
		}
		if present {
			return false, nil
		}
		seen, err := r.store.LastSeen(ctx, p)
		if err != nil {
			return false, err
		}
		if now.Sub(seen) < r.retention {
			return false, nil
		}
	}
	return true, nil
}
