package server

import (
	"context"
	"errors"
	"time"

	"lingochat/internal/middleware"
	"lingochat/internal/models"
	"lingochat/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	wsTicketPrefix = "ws_ticket:"
	wsTicketTTL    = 30 * time.Second
)

func wsTicketKey(ticket string) string {
	return wsTicketPrefix + ticket
}

// IssueWSTicket handles POST /api/ws/ticket. The ticket lets browsers open
// the chat socket without putting a bearer token in the URL.
// @Summary Issue a single-use websocket ticket
// @Tags realtime
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errors.New("websocket tickets require redis")))
	}

	ticket := uuid.NewString()
	if err := s.redis.Set(c.UserContext(), wsTicketKey(ticket), userID, wsTicketTTL).Err(); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":    ticket,
		"expiresIn": int(wsTicketTTL.Seconds()),
	})
}

// wsAuthenticator resolves websocket handshake credentials. Tickets are
// consumed atomically so each one opens at most one connection.
type wsAuthenticator struct {
	verifier *middleware.TokenVerifier
	redis    *redis.Client
}

func (a *wsAuthenticator) Authenticate(ctx context.Context, creds notifications.Credentials) (notifications.Identity, error) {
	if creds.Ticket != "" {
		if a.redis == nil {
			return notifications.Identity{}, models.NewUnauthorizedError("Invalid or expired WebSocket ticket")
		}
		userID, err := a.redis.GetDel(ctx, wsTicketKey(creds.Ticket)).Result()
		if err != nil || userID == "" {
			return notifications.Identity{}, models.NewUnauthorizedError("Invalid or expired WebSocket ticket")
		}
		return notifications.Identity{UserID: userID}, nil
	}

	userID, err := a.verifier.Verify(creds.Token)
	if err != nil {
		if errors.Is(err, middleware.ErrMissingToken) {
			return notifications.Identity{}, models.NewUnauthorizedError("Authorization required")
		}
		return notifications.Identity{}, models.NewUnauthorizedError("Invalid or expired token")
	}
	return notifications.Identity{UserID: userID, Unverified: a.verifier.Soft()}, nil
}
