package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iamasit07/broadside/internal/domain"
	"github.com/redis/go-redis/v9"
)

// FanoutChannel carries envelopes between coordinator processes.
const FanoutChannel = "fanout"

// last-seen stamps outlive presence so the chat sweeper can tell how long
// a participant has been away
const seenTTL = 24 * time.Hour

func presenceKey(user string) string { return "presence:" + user }
func seenKey(user string) string { return "seen:" + user }
func inviteKey(from, to string) string { return "invite:" + from + ":" + to }
func incomingKey(user string) string { return "invites:in:" + user }
func outgoingKey(user string) string { return "invites:out:" + user }
func chatKey(threadID string) string { return "chat:" + threadID }
func chatMetaKey(threadID string) string { return "chatmeta:" + threadID }
func unseenKey(user string) string { return "chat:unseen:" + user }
func gameKey(gameID string) string { return "game:" + gameID }

const (
	rosterKey  = "lobby:users"
	threadsKey = "chat:threads"
)

// Store is the shared ephemeral state of the coordinator: presence, the
// lobby roster, invites, chat threads and game snapshots.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// ---- presence ----

func (s *Store) SetPresence(ctx context.Context, user string, ttl time.Duration, now time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(user), "1", ttl)
		pipe.Set(ctx, seenKey(user), now.UnixMilli(), seenTTL)
		return nil
	})
	return err
}

func (s *Store) ClearPresence(ctx context.Context, user string, now time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(user))
		pipe.Set(ctx, seenKey(user), now.UnixMilli(), seenTTL)
		return nil
	})
	return err
}

func (s *Store) IsPresent(ctx context.Context, user string) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKey(user)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastSeen returns the zero time for users never seen.
func (s *Store) LastSeen(ctx context.Context, user string) (time.Time, error) {
	ms, err := s.client.Get(ctx, seenKey(user)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// ---- roster ----

func (s *Store) AddToRoster(ctx context.Context, user string) error {
	return s.client.SAdd(ctx, rosterKey, user).Err()
}

func (s *Store) RemoveFromRoster(ctx context.Context, user string) error {
	return s.client.SRem(ctx, rosterKey, user).Err()
}

// Roster lists lobby members whose presence is still live, sorted. Members
// whose presence lapsed are pruned on the way.
func (s *Store) Roster(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, rosterKey).Result()
	if err != nil {
		return nil, err
	}

	users := make([]string, 0, len(members))
	var stale []interface{}
	for _, user := range members {
		present, err := s.IsPresent(ctx, user)
		if err != nil {
			return nil, err
		}
		if present {
			users = append(users, user)
		} else {
			stale = append(stale, user)
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, rosterKey, stale...).Err(); err != nil {
			return nil, err
		}
	}

	sort.Strings(users)
	return users, nil
}

// ---- invites ----

func (s *Store) PutInvite(ctx context.Context, inv domain.Invite, ttl time.Duration) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding invite: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, inviteKey(inv.From, inv.To), payload, ttl)
		pipe.SAdd(ctx, incomingKey(inv.To), inv.From)
		pipe.SAdd(ctx, outgoingKey(inv.From), inv.To)
		return nil
	})
	return err
}

// GetInvite returns nil when no invite from -> to exists.
func (s *Store) GetInvite(ctx context.Context, from, to string) (*domain.Invite, error) {
	payload, err := s.client.Get(ctx, inviteKey(from, to)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var inv domain.Invite
	if err := json.Unmarshal(payload, &inv); err != nil {
		return nil, fmt.Errorf("decoding invite %s->%s: %w", from, to, err)
	}
	return &inv, nil
}

func (s *Store) DeleteInvite(ctx context.Context, from, to string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, inviteKey(from, to))
		pipe.SRem(ctx, incomingKey(to), from)
		pipe.SRem(ctx, outgoingKey(from), to)
		return nil
	})
	return err
}

// InviteState assembles what user should see: pending invites in both
// directions plus outgoing invites that were recently declined. Index
// entries whose invite key has expired are dropped.
func (s *Store) InviteState(ctx context.Context, user string) (domain.InviteState, error) {
	state := domain.InviteState{Incoming: []string{}, Outgoing: []string{}, Declined: []string{}}

	incoming, err := s.client.SMembers(ctx, incomingKey(user)).Result()
	if err != nil {
		return state, err
	}
	for _, from := range incoming {
		inv, err := s.GetInvite(ctx, from, user)
		if err != nil {
			return state, err
		}
		if inv == nil {
			s.client.SRem(ctx, incomingKey(user), from)
			continue
		}
		if inv.Status == domain.InvitePending {
			state.Incoming = append(state.Incoming, from)
		}
	}

	outgoing, err := s.client.SMembers(ctx, outgoingKey(user)).Result()
	if err != nil {
		return state, err
	}
	for _, to := range outgoing {
		inv, err := s.GetInvite(ctx, user, to)
		if err != nil {
			return state, err
		}
		if inv == nil {
			s.client.SRem(ctx, outgoingKey(user), to)
			continue
		}
		switch inv.Status {
		case domain.InvitePending:
			state.Outgoing = append(state.Outgoing, to)
		case domain.InviteDeclined:
			state.Declined = append(state.Declined, to)
		}
	}

	sort.Strings(state.Incoming)
	sort.Strings(state.Outgoing)
	sort.Strings(state.Declined)
	return state, nil
}

// ---- chat ----

// AppendChat pushes msg and trims the thread to its newest limit entries.
func (s *Store) AppendChat(ctx context.Context, threadID string, msg domain.ChatMessage, limit int) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding chat message: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, chatKey(threadID), payload)
		pipe.LTrim(ctx, chatKey(threadID), int64(-limit), -1)
		return nil
	})
	return err
}

func (s *Store) ChatHistory(ctx context.Context, threadID string) ([]domain.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, chatKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	history := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decoding chat entry in %s: %w", threadID, err)
		}
		history = append(history, msg)
	}
	return history, nil
}

func (s *Store) TouchThread(ctx context.Context, meta domain.ThreadMeta) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, chatMetaKey(meta.ID),
			"scope", meta.Scope,
			"participants", strings.Join(meta.Participants, ","),
			"last", meta.LastActivity.UnixMilli(),
		)
		pipe.SAdd(ctx, threadsKey, meta.ID)
		return nil
	})
	return err
}

// Threads lists the bookkeeping of every known thread.
func (s *Store) Threads(ctx context.Context) ([]domain.ThreadMeta, error) {
	ids, err := s.client.SMembers(ctx, threadsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	metas := make([]domain.ThreadMeta, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, chatMetaKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			s.client.SRem(ctx, threadsKey, id)
			continue
		}

		meta := domain.ThreadMeta{ID: id, Scope: fields["scope"]}
		if p := fields["participants"]; p != "" {
			meta.Participants = strings.Split(p, ",")
		}
		if ms, err := strconv.ParseInt(fields["last"], 10, 64); err == nil {
			meta.LastActivity = time.UnixMilli(ms)
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, chatKey(threadID), chatMetaKey(threadID))
		pipe.SRem(ctx, threadsKey, threadID)
		return nil
	})
	return err
}

// FlagUnseen marks that user has unread lobby chat from peer.
func (s *Store) FlagUnseen(ctx context.Context, user, peer string) error {
	return s.client.SAdd(ctx, unseenKey(user), peer).Err()
}

func (s *Store) ClearUnseen(ctx context.Context, user, peer string) error {
	return s.client.SRem(ctx, unseenKey(user), peer).Err()
}

func (s *Store) Unseen(ctx context.Context, user string) ([]string, error) {
	peers, err := s.client.SMembers(ctx, unseenKey(user)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(peers)
	return peers, nil
}

// ---- games ----

func (s *Store) SaveGame(ctx context.Context, g *domain.Game, ttl time.Duration) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding game %s: %w", g.ID, err)
	}
	return s.client.Set(ctx, gameKey(g.ID), payload, ttl).Err()
}

// LoadGame returns domain.ErrSessionNotFound when no snapshot exists.
func (s *Store) LoadGame(ctx context.Context, gameID string) (*domain.Game, error) {
	payload, err := s.client.Get(ctx, gameKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var g domain.Game
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, fmt.Errorf("decoding game %s: %w", gameID, err)
	}
	return &g, nil
}

// TouchGame extends the snapshot's lifetime and reports whether it still
// existed.
func (s *Store) TouchGame(ctx context.Context, gameID string, ttl time.Duration) (bool, error) {
	return s.client.Expire(ctx, gameKey(gameID), ttl).Result()
}

func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	return s.client.Del(ctx, gameKey(gameID)).Err()
}

// ---- pub/sub ----

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe delivers every payload on channel to handle until ctx is
// cancelled. It returns once the subscription fails or ctx ends.
func (s *Store) Subscribe(ctx context.Context, channel string, handle func([]byte)) error {
	pubsub := s.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			handle([]byte(msg.Payload))
		}
	}
}
