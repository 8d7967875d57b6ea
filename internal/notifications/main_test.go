package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"lingochat/internal/models"

	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestClient() *Client {
	return &Client{ID: "conn", Send: make(chan []byte, 10)}
}

// drain returns every frame queued on c without blocking.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func eventNames(frames []frame) []string {
	names := make([]string, 0, len(frames))
	for _, f := range frames {
		names = append(names, f.Event)
	}
	return names
}

// stubMembers admits the (user, conversation) pairs it was built with.
type stubMembers map[string]map[string]bool

func (s stubMembers) EnsureMember(_ context.Context, userID, conversationID string) (*models.ConversationMember, error) {
	users, ok := s[conversationID]
	if !ok {
		return nil, models.NewNotFoundError("Conversation", conversationID)
	}
	if !users[userID] {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}
	return &models.ConversationMember{ConversationID: conversationID, UserID: userID, Role: models.RoleMember}, nil
}
