package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageBody struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestChatRoutesRequireAuth(t *testing.T) {
	s, _ := newTestServer(t)

	var body errorBody
	status := doJSON(t, s, http.MethodGet, "/api/chat/conversations", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, body.Error)
}

func TestOpenDirectConversation(t *testing.T) {
	s, _ := newTestServer(t)

	var first, second struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	assert.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/chat/with/bob", "alice", nil, &first))
	assert.Equal(t, "DIRECT", first.Type)

	// the peer opening it resolves to the same conversation
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/chat/with/alice", "bob", nil, &second))
	assert.Equal(t, first.ID, second.ID)

	t.Run("with yourself", func(t *testing.T) {
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/chat/with/alice", "alice", nil, &body))
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, doJSON(t, s, http.MethodPost, "/api/chat/with/nobody", "alice", nil, nil))
	})
}

func TestSendAndListMessages(t *testing.T) {
	s, _ := newTestServer(t)
	convID := openDirect(t, s, "alice", "bob")
	path := "/api/chat/conversations/" + convID + "/messages"

	var sent messageBody
	status := doJSON(t, s, http.MethodPost, path, "alice", fiber.Map{"text": "hello", "clientMessageId": "c-1"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "hello", sent.Text)
	assert.Equal(t, "alice", sent.SenderID)
	assert.Equal(t, convID, sent.ConversationID)

	var replay messageBody
	status = doJSON(t, s, http.MethodPost, path, "alice", fiber.Map{"text": "hello", "clientMessageId": "c-1"}, &replay)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, sent.ID, replay.ID)

	var history []messageBody
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, path, "bob", nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)

	t.Run("empty text", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, path, "alice", fiber.Map{"text": "  "}, nil))
	})

	t.Run("non member", func(t *testing.T) {
		var body errorBody
		assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodGet, path, "carol", nil, &body))
		assert.Equal(t, "FORBIDDEN", body.Code)
	})

	t.Run("bad cursor", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodGet, path+"?before=yesterday", "bob", nil, nil))
	})
}

func TestConversationListShowsUnread(t *testing.T) {
	s, _ := newTestServer(t)
	convID := openDirect(t, s, "alice", "bob")
	path := "/api/chat/conversations/" + convID + "/messages"
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, path, "alice", fiber.Map{"text": "one"}, nil))
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, path, "alice", fiber.Map{"text": "two"}, nil))

	var list []struct {
		ID          string `json:"id"`
		UnreadCount int64  `json:"unreadCount"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/chat/conversations", "bob", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].UnreadCount)

	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/chat/conversations/"+convID+"/read", "bob", nil, nil))

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/chat/conversations", "bob", nil, &list))
	assert.Equal(t, int64(0), list[0].UnreadCount)
}

func TestGroupLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	var created struct {
		ConversationID string `json:"conversationId"`
	}
	status := doJSON(t, s, http.MethodPost, "/api/chat/groups", "alice",
		fiber.Map{"title": "Trip", "memberIds": []string{"bob", "carol"}}, &created)
	require.Equal(t, http.StatusCreated, status)
	base := "/api/chat/conversations/" + created.ConversationID

	t.Run("too few members", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/chat/groups", "alice",
			fiber.Map{"title": "Pair", "memberIds": []string{"bob"}}, nil))
	})

	var members []struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, base+"/members", "bob", nil, &members))
	assert.Len(t, members, 3)

	var renamed struct {
		Title string `json:"title"`
	}
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPatch, base, "alice", fiber.Map{"title": "Road trip"}, &renamed))
	assert.Equal(t, "Road trip", renamed.Title)

	t.Run("owner cannot leave before transfer", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodPost, base+"/leave", "alice", nil, nil))
	})

	var left struct {
		Deleted bool `json:"deleted"`
	}
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, base+"/leave", "bob", nil, &left))
	assert.False(t, left.Deleted)
	assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodGet, base+"/messages", "bob", nil, nil))
}

func TestToggleReaction(t *testing.T) {
	s, _ := newTestServer(t)
	convID := openDirect(t, s, "alice", "bob")

	var sent messageBody
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost,
		"/api/chat/conversations/"+convID+"/messages", "alice", fiber.Map{"text": "hi"}, &sent))

	var res struct {
		Added     bool          `json:"added"`
		Reactions []interface{} `json:"reactions"`
	}
	path := "/api/chat/messages/" + sent.ID + "/reactions"
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, path, "bob", fiber.Map{"emoji": "👍"}, &res))
	assert.True(t, res.Added)
	assert.Len(t, res.Reactions, 1)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, path, "bob", fiber.Map{"emoji": "👍"}, &res))
	assert.False(t, res.Added)
	assert.NotNil(t, res.Reactions)
	assert.Empty(t, res.Reactions)
}

func TestEditAndRevokeOwnMessageOnly(t *testing.T) {
	s, _ := newTestServer(t)
	convID := openDirect(t, s, "alice", "bob")

	var sent messageBody
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost,
		"/api/chat/conversations/"+convID+"/messages", "alice", fiber.Map{"text": "typo"}, &sent))

	assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodPatch, "/api/chat/messages/"+sent.ID, "bob", fiber.Map{"text": "hijack"}, nil))

	var edited messageBody
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPatch, "/api/chat/messages/"+sent.ID, "alice", fiber.Map{"text": "fixed"}, &edited))
	assert.Equal(t, "fixed", edited.Text)

	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodDelete, "/api/chat/messages/"+sent.ID, "alice", nil, nil))
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/health/ready", "", nil, &ready))
	assert.Equal(t, "healthy", ready.Status)
	assert.Equal(t, "healthy", ready.Checks["redis"])
}

func TestGetPresenceOffline(t *testing.T) {
	s, _ := newTestServer(t)

	var body map[string]interface{}
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/chat/presence/bob", "alice", nil, &body))
	assert.Equal(t, "bob", body["userId"])
	assert.Equal(t, false, body["online"])
	assert.NotContains(t, body, "lastSeen")
}

func TestFeatureFlags(t *testing.T) {
	s, _ := newTestServer(t)

	var body struct {
		Evaluated map[string]bool `json:"evaluated"`
	}
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/feature-flags", "alice", nil, &body))
	assert.True(t, body.Evaluated["typing_indicators"])
}
