package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectKey_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, DirectKey("alice", "bob"), DirectKey("bob", "alice"))
	assert.Equal(t, "alice:bob", DirectKey("bob", "alice"))
}

func TestPreviewText(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"text", Message{Text: "hi", Type: MessageText}, "hi"},
		{"revoked wins", Message{Text: "", Type: MessageImage, DeletedAt: &now}, PreviewRevoked},
		{"image without text", Message{Type: MessageImage}, PreviewImage},
		{"file without text", Message{Type: MessageFile}, PreviewFile},
		{"text type with attachment", Message{Type: MessageText, Attachments: Attachments{{URL: "/x"}}}, PreviewFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PreviewText(&tt.msg))
		})
	}
}

func TestAttachments_ValueAndScan(t *testing.T) {
	in := Attachments{{URL: "/uploads/chat/a.png", Name: "a.png", Mime: "image/png", Size: 10, Width: 2, Height: 3}}
	v, err := in.Value()
	require.NoError(t, err)

	var out Attachments
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)

	empty, err := Attachments(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	assert.Error(t, out.Scan(42))
}

func TestMemberDisplayName(t *testing.T) {
	nick := "Teach"
	m := ConversationMember{User: &User{Name: "Ana"}}
	assert.Equal(t, "Ana", m.DisplayName())
	m.Nickname = &nick
	assert.Equal(t, "Teach", m.DisplayName())
	assert.Equal(t, DefaultDisplayName, (&ConversationMember{}).DisplayName())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, fiber.StatusBadRequest, HTTPStatus(NewValidationError("x")))
	assert.Equal(t, fiber.StatusForbidden, HTTPStatus(fmt.Errorf("wrapped: %w", NewForbiddenError("x"))))
	assert.Equal(t, fiber.StatusNotFound, HTTPStatus(NewNotFoundError("Message", "m1")))
	assert.Equal(t, fiber.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, CodeForbidden, ErrorCode(NewForbiddenError("x")))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
}
