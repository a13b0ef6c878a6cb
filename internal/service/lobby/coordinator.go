package lobby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iamasit07/broadside/internal/domain"
	"go.uber.org/zap"
)

type Store interface {
	AddToRoster(ctx context.Context, user string) error
	RemoveFromRoster(ctx context.Context, user string) error
	Roster(ctx context.Context) ([]string, error)
	PutInvite(ctx context.Context, inv domain.Invite, ttl time.Duration) error
	GetInvite(ctx context.Context, from, to string) (*domain.Invite, error)
	DeleteInvite(ctx context.Context, from, to string) error
	InviteState(ctx context.Context, user string) (domain.InviteState, error)
}

type Broadcaster interface {
	SendTo(user, scope string, msg domain.ServerMessage)
}

// SessionOpener creates or reuses the game for a pair of players.
type SessionOpener interface {
	Open(ctx context.Context, a, b string) (string, error)
	Active(a, b string) (string, bool)
}

type Notifications interface {
	PendingNotifications(ctx context.Context, user string) ([]string, error)
}

type pair struct {
	from string
	to   string
}

// Coordinator owns the lobby roster and the invite lifecycle. Every
// mutation runs under one lock; timers re-check their own identity before
// acting so a stopped timer that already fired is a no-op.
type Coordinator struct {
	store         Store
	out           Broadcaster
	sessions      SessionOpener
	chat          Notifications
	log           *zap.Logger
	inviteTimeout time.Duration
	declineNotice time.Duration
	now           func() time.Time

	mu     sync.Mutex
	timers map[pair]*time.Timer
}

func NewCoordinator(store Store, out Broadcaster, sessions SessionOpener, chat Notifications, inviteTimeout, declineNotice time.Duration, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:         store,
		out:           out,
		sessions:      sessions,
		chat:          chat,
		log:           log.Named("lobby"),
		inviteTimeout: inviteTimeout,
		declineNotice: declineNotice,
		now:           time.Now,
		timers:        make(map[pair]*time.Timer),
	}
}

// Connect adds user to the roster and brings them up to date: the roster
// goes to everyone, invite state and unread chat flags to user.
func (c *Coordinator) Connect(ctx context.Context, user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.AddToRoster(ctx, user); err != nil {
		return fmt.Errorf("adding %s to roster: %w", user, err)
	}
	if err := c.broadcastRoster(ctx); err != nil {
		return err
	}
	if err := c.pushState(ctx, user); err != nil {
		return err
	}

	peers, err := c.chat.PendingNotifications(ctx, user)
	if err != nil {
		return fmt.Errorf("loading chat notifications: %w", err)
	}
	for _, peer := range peers {
		c.out.SendTo(user, domain.ScopeLobby, domain.ChatNotifyMessage(peer))
	}
	return nil
}

// Disconnect runs once the reaper has given up on user.
func (c *Coordinator) Disconnect(ctx context.Context, user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveFromRoster(ctx, user); err != nil {
		return fmt.Errorf("removing %s from roster: %w", user, err)
	}
	c.log.Info("left lobby", zap.String("user", user))
	return c.broadcastRoster(ctx)
}

func (c *Coordinator) Roster(ctx context.Context) ([]string, error) {
	return c.store.Roster(ctx)
}

func (c *Coordinator) StateFor(ctx context.Context, user string) (domain.InviteState, error) {
	return c.store.InviteState(ctx, user)
}

func (c *Coordinator) Invite(ctx context.Context, from, to string) error {
	if to == "" || to == from {
		return domain.ErrInvalidTarget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	online, err := c.store.Roster(ctx)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}
	if !contains(online, to) {
		return domain.ErrInvalidTarget
	}

	existing, err := c.store.GetInvite(ctx, from, to)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == domain.InvitePending {
		return domain.ErrDuplicateInvite
	}

	now := c.now()
	inv := domain.Invite{
		From:      from,
		To:        to,
		Status:    domain.InvitePending,
		CreatedAt: now,
		ExpiresAt: now.Add(c.inviteTimeout),
	}
	if err := c.store.PutInvite(ctx, inv, c.inviteTimeout); err != nil {
		return fmt.Errorf("storing invite: %w", err)
	}
	c.startTimer(pair{from, to}, c.inviteTimeout, c.expire)

	c.log.Info("invite sent", zap.String("from", from), zap.String("to", to))
	return c.pushStates(ctx, from, to)
}

// CancelInvite withdraws a pending invite. Anything else is a no-op.
func (c *Coordinator) CancelInvite(ctx context.Context, from, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, err := c.store.GetInvite(ctx, from, to)
	if err != nil {
		return err
	}
	if inv == nil || inv.Status != domain.InvitePending {
		return nil
	}

	c.stopTimer(pair{from, to})
	if err := c.store.DeleteInvite(ctx, from, to); err != nil {
		return fmt.Errorf("cancelling invite: %w", err)
	}
	c.log.Info("invite cancelled", zap.String("from", from), zap.String("to", to))
	return c.pushStates(ctx, from, to)
}

// RespondInvite settles the invite from -> to. Accepting returns the id of
// the game both players are sent to. A repeated accept for a pair that
// already has a live game returns that game again.
func (c *Coordinator) RespondInvite(ctx context.Context, to, from string, accept bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, err := c.store.GetInvite(ctx, from, to)
	if err != nil {
		return "", err
	}
	if inv == nil || inv.Status != domain.InvitePending {
		if gameID, ok := c.sessions.Active(from, to); ok && accept {
			c.out.SendTo(to, domain.ScopeLobby, domain.InviteAcceptedMessage(from, gameID))
			return gameID, nil
		}
		return "", domain.ErrNoSuchInvite
	}

	k := pair{from, to}
	c.stopTimer(k)

	if !accept {
		return "", c.decline(ctx, *inv)
	}

	if err := c.store.DeleteInvite(ctx, from, to); err != nil {
		return "", fmt.Errorf("settling invite: %w", err)
	}
	gameID, err := c.sessions.Open(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("opening game: %w", err)
	}

	c.log.Info("invite accepted", zap.String("from", from), zap.String("to", to), zap.String("game", gameID))
	c.out.SendTo(from, domain.ScopeLobby, domain.InviteAcceptedMessage(to, gameID))
	c.out.SendTo(to, domain.ScopeLobby, domain.InviteAcceptedMessage(from, gameID))
	return gameID, c.pushStates(ctx, from, to)
}

func (c *Coordinator) decline(ctx context.Context, inv domain.Invite) error {
	c.log.Info("invite declined", zap.String("from", inv.From), zap.String("to", inv.To))
	c.out.SendTo(inv.From, domain.ScopeLobby, domain.InviteDeclinedMessage(inv.To))

	if c.declineNotice <= 0 {
		if err := c.store.DeleteInvite(ctx, inv.From, inv.To); err != nil {
			return err
		}
		return c.pushStates(ctx, inv.From, inv.To)
	}

	inv.Status = domain.InviteDeclined
	if err := c.store.PutInvite(ctx, inv, c.declineNotice); err != nil {
		return fmt.Errorf("recording decline: %w", err)
	}
	c.startTimer(pair{inv.From, inv.To}, c.declineNotice, c.clearDecline)
	return c.pushStates(ctx, inv.From, inv.To)
}

func (c *Coordinator) expire(k pair) {
	ctx := context.Background()
	inv, err := c.store.GetInvite(ctx, k.from, k.to)
	if err != nil {
		c.log.Warn("loading expiring invite failed", zap.Error(err))
		return
	}
	if inv != nil && inv.Status != domain.InvitePending {
		return
	}
	if err := c.store.DeleteInvite(ctx, k.from, k.to); err != nil {
		c.log.Warn("removing expired invite failed", zap.Error(err))
		return
	}
	c.log.Info("invite expired", zap.String("from", k.from), zap.String("to", k.to))
	if err := c.pushStates(ctx, k.from, k.to); err != nil {
		c.log.Warn("pushing invite state failed", zap.Error(err))
	}
}

func (c *Coordinator) clearDecline(k pair) {
	ctx := context.Background()
	inv, err := c.store.GetInvite(ctx, k.from, k.to)
	if err != nil {
		c.log.Warn("loading declined invite failed", zap.Error(err))
		return
	}
	if inv != nil && inv.Status != domain.InviteDeclined {
		return
	}
	if err := c.store.DeleteInvite(ctx, k.from, k.to); err != nil {
		c.log.Warn("clearing declined invite failed", zap.Error(err))
		return
	}
	if err := c.pushStates(ctx, k.from, k.to); err != nil {
		c.log.Warn("pushing invite state failed", zap.Error(err))
	}
}

// startTimer must be called with c.mu held. fire runs with c.mu held.
func (c *Coordinator) startTimer(k pair, d time.Duration, fire func(pair)) {
	c.stopTimer(k)

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.timers[k] != timer {
			return
		}
		delete(c.timers, k)
		fire(k)
	})
	c.timers[k] = timer
}

func (c *Coordinator) stopTimer(k pair) {
	if t, ok := c.timers[k]; ok {
		t.Stop()
		delete(c.timers, k)
	}
}

// Stop cancels every invite and notice timer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.timers {
		c.stopTimer(k)
	}
}

func (c *Coordinator) broadcastRoster(ctx context.Context) error {
	users, err := c.store.Roster(ctx)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}
	for _, u := range users {
		c.out.SendTo(u, domain.ScopeLobby, domain.UserListMessage(users, u))
	}
	return nil
}

func (c *Coordinator) pushState(ctx context.Context, user string) error {
	state, err := c.store.InviteState(ctx, user)
	if err != nil {
		return fmt.Errorf("loading invite state for %s: %w", user, err)
	}
	c.out.SendTo(user, domain.ScopeLobby, domain.InviteStateMessage(state))
	return nil
}

func (c *Coordinator) pushStates(ctx context.Context, users ...string) error {
	for _, u := range users {
		if err := c.pushState(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
