package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iamasit07/broadside/internal/domain"
	"github.com/iamasit07/broadside/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type LobbyReader interface {
	Roster(ctx context.Context) ([]string, error)
	StateFor(ctx context.Context, user string) (domain.InviteState, error)
}

type LobbyHandler struct {
	Lobby LobbyReader
	log   *zap.Logger
}

func NewLobbyHandler(lobby LobbyReader, log *zap.Logger) *LobbyHandler {
	return &LobbyHandler{Lobby: lobby, log: log.Named("http")}
}

type lobbyResponse struct {
	Self    string             `json:"self"`
	Users   []string           `json:"users"`
	Invites domain.InviteState `json:"invites"`
}

// GetLobby returns the online roster and the caller's invite state.
func (h *LobbyHandler) GetLobby(c *gin.Context) {
	user := c.GetString(middleware.UserKey)

	users, err := h.Lobby.Roster(c.Request.Context())
	if err != nil {
		h.log.Error("loading roster failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load lobby"})
		return
	}
	invites, err := h.Lobby.StateFor(c.Request.Context(), user)
	if err != nil {
		h.log.Error("loading invite state failed", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load lobby"})
		return
	}

	c.JSON(http.StatusOK, lobbyResponse{Self: user, Users: users, Invites: invites})
}

// Health reports liveness of the process and its store.
func Health(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
