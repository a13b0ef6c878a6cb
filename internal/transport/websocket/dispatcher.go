package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iamasit07/broadside/internal/domain"
	"github.com/iamasit07/broadside/internal/service/chat"
	"github.com/iamasit07/broadside/internal/service/game"
	"go.uber.org/zap"
)

type LobbyService interface {
	Connect(ctx context.Context, user string) error
	Disconnect(ctx context.Context, user string) error
	Invite(ctx context.Context, from, to string) error
	CancelInvite(ctx context.Context, from, to string) error
	RespondInvite(ctx context.Context, to, from string, accept bool) (string, error)
}

type ChatService interface {
	Join(ctx context.Context, user string, t chat.Thread) ([]domain.ChatMessage, error)
	Part(user, scope string)
	Send(ctx context.Context, t chat.Thread, sender, body string) error
}

type SessionProvider interface {
	Get(ctx context.Context, gameID string) (*game.GameSession, error)
}

// ScopeNotifier reaches every connection attached to a scope.
type ScopeNotifier interface {
	Broadcast(scope string, msg domain.ServerMessage)
	CloseScope(scope string, code int, reason string)
}

var errInternal = errors.New("internal error, please retry")

// Dispatcher routes one inbound frame to the component owning it, based
// on the connection's scope and the message type. Rejections are answered
// on the acting connection only.
type Dispatcher struct {
	Lobby    LobbyService
	Chat     ChatService
	Sessions SessionProvider
	Out      ScopeNotifier
	log      *zap.Logger
}

func NewDispatcher(lobby LobbyService, chat ChatService, sessions SessionProvider, out ScopeNotifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{Lobby: lobby, Chat: chat, Sessions: sessions, Out: out, log: log.Named("dispatch")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Connection, raw []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		d.log.Warn("ignoring malformed message", zap.String("user", c.UserID), zap.ByteString("raw", truncate(raw)))
		return
	}

	if msg.Type == domain.MsgPing {
		c.Send(domain.PongMessage())
		return
	}

	var err error
	if c.Scope == domain.ScopeLobby {
		err = d.lobby(ctx, c, msg)
	} else {
		err = d.game(ctx, c, msg)
	}
	d.reply(c, msg.Type, err)
}

func (d *Dispatcher) lobby(ctx context.Context, c *Connection, msg domain.ClientMessage) error {
	user := c.UserID

	switch msg.Type {
	case domain.MsgInvite:
		return d.Lobby.Invite(ctx, user, msg.To)

	case domain.MsgInviteCancel:
		return d.Lobby.CancelInvite(ctx, user, msg.To)

	case domain.MsgInviteResponse:
		accept, err := domain.ParseInviteResponse(msg.Status)
		if err != nil {
			return err
		}
		_, err = d.Lobby.RespondInvite(ctx, user, msg.From, accept)
		return err

	case domain.MsgJoinChat:
		if msg.ChatWith == "" || msg.ChatWith == user {
			return domain.ErrInvalidTarget
		}
		history, err := d.Chat.Join(ctx, user, chat.LobbyThread(user, msg.ChatWith))
		if err != nil {
			return err
		}
		return c.Send(domain.ChatHistoryMessage(history))

	case domain.MsgSendMessage:
		if msg.ChatWith == "" || msg.ChatWith == user {
			return domain.ErrInvalidTarget
		}
		return d.Chat.Send(ctx, chat.LobbyThread(user, msg.ChatWith), user, msg.Body)
	}

	return fmt.Errorf("%w %q", domain.ErrUnknownMessage, msg.Type)
}

func (d *Dispatcher) game(ctx context.Context, c *Connection, msg domain.ClientMessage) error {
	gameID, ok := domain.GameIDFromScope(c.Scope)
	if !ok {
		return fmt.Errorf("connection has no game scope")
	}
	session, err := d.Sessions.Get(ctx, gameID)
	if err != nil {
		d.endGame(c, err)
		return nil
	}
	user := c.UserID

	switch msg.Type {
	case domain.MsgPlaceShip:
		if !msg.HasCoords() {
			d.log.Warn("place_ship without coordinates", zap.String("user", user))
			return nil
		}
		return session.PlaceShip(ctx, user, *msg.X, *msg.Y, msg.Length, msg.Orientation)

	case domain.MsgRemoveShip:
		if !msg.HasCoords() {
			d.log.Warn("remove_ship without coordinates", zap.String("user", user))
			return nil
		}
		return session.RemoveShip(ctx, user, *msg.X, *msg.Y)

	case domain.MsgSetReady:
		return session.SetReady(ctx, user)

	case domain.MsgMakeMove:
		if !msg.HasCoords() {
			d.log.Warn("make_move without coordinates", zap.String("user", user))
			return nil
		}
		return session.MakeMove(ctx, user, *msg.X, *msg.Y)

	case domain.MsgLeaveGame:
		return session.Leave(ctx, user)

	case domain.MsgRestartGame:
		return session.VoteRematch(ctx, user)

	case domain.MsgSendMessage:
		return d.Chat.Send(ctx, session.Thread, user, msg.Body)
	}

	return fmt.Errorf("%w %q", domain.ErrUnknownMessage, msg.Type)
}

// endGame reports a game that can no longer be loaded. A resource error
// goes to everyone attached to the game before the scope is closed;
// anything else only ends the acting connection.
func (d *Dispatcher) endGame(c *Connection, err error) {
	d.log.Warn("game unavailable", zap.String("user", c.UserID), zap.String("scope", c.Scope), zap.Error(err))
	if domain.KindOf(err) == domain.KindResource {
		d.Out.Broadcast(c.Scope, domain.ErrorMessage(err))
		d.Out.CloseScope(c.Scope, domain.CloseSessionEnded, err.Error())
		return
	}
	c.Send(domain.ErrorMessage(errInternal))
	c.Close(domain.CloseSessionEnded, "game unavailable")
}

// reply answers a rejected action on the acting connection. Resource
// errors have already been reported to both players by the session.
func (d *Dispatcher) reply(c *Connection, kind string, err error) {
	if err == nil {
		return
	}

	switch domain.KindOf(err) {
	case domain.KindResource:
		return
	case domain.KindValidation, domain.KindState:
		c.Send(domain.ErrorMessage(err))
	default:
		d.log.Error("action failed", zap.String("user", c.UserID), zap.String("type", kind), zap.Error(err))
		c.Send(domain.ErrorMessage(errInternal))
	}
}

func truncate(raw []byte) []byte {
	if len(raw) > 256 {
		return raw[:256]
	}
	return raw
}
