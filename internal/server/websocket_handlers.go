package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"lingochat/internal/featureflags"
	"lingochat/internal/middleware"
	"lingochat/internal/models"
	"lingochat/internal/notifications"
	"lingochat/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	wsCredentialsKey = "wsCredentials"
	// touchInterval throttles presence mirror writes on busy connections.
	touchInterval = 15 * time.Second
)

var wsLog = observability.NewWSLogger("chat gateway")

// inboundFrame is a client request. Ack, when present, is echoed on the reply.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   string          `json:"ack,omitempty"`
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type typingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// WebSocketUpgrade rejects plain HTTP requests and captures the handshake
// credentials before the connection is upgraded.
func (s *Server) WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			token = middleware.BearerToken(c.Get(fiber.HeaderAuthorization))
		}
		c.Locals(wsCredentialsKey, notifications.Credentials{
			Token:  token,
			Ticket: c.Query("ticket"),
		})
		return c.Next()
	}
}

// WebSocketChatHandler serves GET /api/ws/chat.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()
		creds, _ := conn.Locals(wsCredentialsKey).(notifications.Credentials)

		identity, err := s.registry.Authenticate(ctx, creds)
		if err != nil {
			wsLog.LogRejected(ctx, "auth", err)
			rejectConn(conn, err)
			return
		}

		client := notifications.NewClient(s.registry, conn)
		cameOnline, err := s.registry.Register(ctx, client, identity.UserID)
		if err != nil {
			wsLog.LogRejected(ctx, "capacity", err)
			rejectConn(conn, models.NewRateLimitedError(err.Error()))
			return
		}

		userID := identity.UserID
		ctx = middleware.WithUserID(ctx, userID)
		ctx = context.WithValue(ctx, middleware.ConnIDKey, client.ID)
		wsLog.LogConnect(ctx, userID, client.ID, identity.Unverified)
		if identity.Unverified {
			middleware.Logger.WarnContext(ctx, "websocket accepted an unverified token", "user_id", userID)
		}

		var lastTouch time.Time
		client.OnActivity = func(c *notifications.Client) {
			if time.Since(lastTouch) < touchInterval {
				return
			}
			lastTouch = time.Now()
			s.registry.Touch(ctx, c)
		}
		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			s.handleChatFrame(ctx, c, raw)
		}

		notifications.SendTo(client, notifications.PresenceSnapshotEvent{UserIDs: s.registry.Snapshot()})
		if cameOnline {
			s.registry.AnnouncePresence(userID)
		}

		go client.WritePump()
		client.ReadPump()
	})
}

// rejectConn sends an error frame and closes a connection that never registered.
func rejectConn(conn *websocket.Conn, err error) {
	frame, encErr := notifications.Encode(errorEvent("", err))
	if encErr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, models.ErrorCode(err)))
	_ = conn.Close()
}

func errorEvent(ack string, err error) notifications.ErrorEvent {
	message := "Internal server error"
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
		message = appErr.Message
	}
	return notifications.ErrorEvent{Ack: ack, Code: models.ErrorCode(err), Message: message}
}

func decodeData(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return models.NewValidationError("Missing data")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.NewValidationError("Invalid data")
	}
	return nil
}

func (s *Server) handleChatFrame(ctx context.Context, c *notifications.Client, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		notifications.SendTo(c, errorEvent("", models.NewValidationError("Invalid frame")))
		observability.WebSocketEventsTotal.WithLabelValues("invalid", "error").Inc()
		return
	}
	wsLog.LogMessage(ctx, c.UserID, in.Event)

	result, err := s.handleRequest(ctx, c, in)

	label := in.Event
	if !knownRequest(in.Event) {
		label = "unknown"
	}
	if err != nil {
		if models.HTTPStatus(err) == fiber.StatusInternalServerError {
			wsLog.LogError(ctx, c.UserID, "", err, in.Event)
		}
		notifications.SendTo(c, errorEvent(in.Ack, err))
		observability.WebSocketEventsTotal.WithLabelValues(label, "error").Inc()
		return
	}
	if in.Ack != "" {
		notifications.SendTo(c, notifications.AckEvent{Ack: in.Ack, OK: true, Data: result})
	}
	observability.WebSocketEventsTotal.WithLabelValues(label, "ok").Inc()
}

func knownRequest(event string) bool {
	switch event {
	case notifications.RequestPresenceSync, notifications.RequestJoin, notifications.RequestLeave,
		notifications.RequestTyping, notifications.RequestRead, notifications.RequestSend:
		return true
	}
	return false
}

func (s *Server) handleRequest(ctx context.Context, c *notifications.Client, in inboundFrame) (interface{}, error) {
	switch in.Event {
	case notifications.RequestPresenceSync:
		notifications.SendTo(c, notifications.PresenceSnapshotEvent{UserIDs: s.registry.Snapshot()})
		return nil, nil

	case notifications.RequestJoin:
		var req conversationRef
		if err := decodeData(in.Data, &req); err != nil {
			return nil, err
		}
		convID := strings.TrimSpace(req.ConversationID)
		if convID == "" {
			return nil, models.NewValidationError("conversationId is required")
		}
		if err := s.router.JoinConversation(ctx, c, convID); err != nil {
			return nil, err
		}
		return fiber.Map{"conversationId": convID}, nil

	case notifications.RequestLeave:
		var req conversationRef
		if err := decodeData(in.Data, &req); err != nil {
			return nil, err
		}
		s.router.Leave(c, notifications.ChatRoom(req.ConversationID))
		return fiber.Map{"conversationId": req.ConversationID}, nil

	case notifications.RequestTyping:
		var req typingRequest
		if err := decodeData(in.Data, &req); err != nil {
			return nil, err
		}
		if !s.featureFlags.Enabled(featureflags.TypingIndicators, c.UserID) {
			return nil, nil
		}
		// spammy typing frames are dropped silently
		if !s.allow(ctx, "typing", c.UserID, typingLimit) {
			return nil, nil
		}
		if _, err := s.conversations.EnsureMember(ctx, c.UserID, req.ConversationID); err != nil {
			return nil, err
		}
		s.emitTyping(req.ConversationID, c.UserID, req.IsTyping)
		return nil, nil

	case notifications.RequestRead:
		var req conversationRef
		if err := decodeData(in.Data, &req); err != nil {
			return nil, err
		}
		res, err := s.messages.MarkRead(ctx, c.UserID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		s.emitRead(res)
		return fiber.Map{"conversationId": res.ConversationID, "readAt": res.ReadAt}, nil

	case notifications.RequestSend:
		var req SendMessageRequest
		if err := decodeData(in.Data, &req); err != nil {
			return nil, err
		}
		if !s.allow(ctx, "send_chat", c.UserID, sendLimit) {
			return nil, models.NewRateLimitedError("Rate limit exceeded. Please wait a moment.")
		}
		res, err := s.messages.Send(ctx, req.input(c.UserID))
		if err != nil {
			return nil, err
		}
		s.emitSent(ctx, res)
		return fiber.Map{"message": res.Message, "created": res.Created}, nil
	}

	return nil, models.NewValidationError("Unknown event " + in.Event)
}

// allow applies a per-user, per-minute limit. Store failures let the request through.
func (s *Server) allow(ctx context.Context, resource, userID string, limit int) bool {
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, resource, "user:"+userID, limit, time.Minute)
	if err != nil {
		return true
	}
	return allowed
}
