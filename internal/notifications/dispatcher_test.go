package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"lingochat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rooms(ds []Delivery) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Room)
	}
	return out
}

func TestPlanNewMessage(t *testing.T) {
	msg := &models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Text: "hello"}
	ds := PlanNewMessage("c1", msg, []string{"bob", "carol"})

	assert.Equal(t, []string{"chat:c1", "user:bob", "user:carol"}, rooms(ds))
	for _, d := range ds {
		assert.Equal(t, EventNewMessage, d.Event.EventName())
	}
}

func TestPlanMessageUpdates(t *testing.T) {
	now := time.Now()
	msg := &models.Message{ID: "m1", ConversationID: "c1", DeletedAt: &now}

	tests := []struct {
		name     string
		plan     []Delivery
		room     string
		wantType UpdateType
	}{
		{"edit", PlanMessageEdited(msg), "chat:c1", UpdateEdit},
		{"revoke", PlanMessageRevoked(msg), "chat:c1", UpdateDelete},
		{"reactions", PlanReactions("c1", "m1", nil), "chat:c1", UpdateReactions},
		{"hidden", PlanHidden("alice", "c1", "m1"), "user:alice", UpdateHidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.plan, 1)
			assert.Equal(t, tt.room, tt.plan[0].Room)
			ev, ok := tt.plan[0].Event.(MessageUpdateEvent)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, "m1", ev.MessageID)
		})
	}
}

func TestPlanReactions_EncodesEmptyList(t *testing.T) {
	payload, err := Encode(PlanReactions("c1", "m1", nil)[0].Event)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"chat:update","data":{"type":"REACTIONS","conversationId":"c1","messageId":"m1","reactions":[]}}`,
		string(payload))
}

func TestPlanMembersUpdated(t *testing.T) {
	nick := "Teach"
	ds := PlanMembersUpdated(MembersChange{
		ConversationID: "c1",
		Reason:         ReasonNickname,
		ActorID:        "alice",
		UserIDs:        []string{"bob"},
		Nickname:       &nick,
	}, []string{"alice", "bob", "carol"})

	assert.Equal(t, []string{"chat:c1", "user:alice", "user:bob", "user:carol"}, rooms(ds))
	payload, err := Encode(ds[0].Event)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"chat:members_updated","data":{"conversationId":"c1","reason":"NICKNAME","actorId":"alice","userIds":["bob"],"nickname":"Teach"}}`,
		string(payload))
}

func TestPlanConversationRemovedAndDeleted(t *testing.T) {
	removed := PlanConversationRemoved("c1", "bob")
	assert.Equal(t, []string{"user:bob", "user:bob"}, rooms(removed))
	assert.Equal(t, EventConversationRemoved, removed[0].Event.EventName())
	assert.Equal(t, UpdateConversationRemoved, removed[1].Event.(MessageUpdateEvent).Type)

	deleted := PlanConversationDeleted("c1", []string{"alice", "bob"})
	assert.Equal(t, []string{"user:alice", "user:alice", "user:bob", "user:bob"}, rooms(deleted))
	assert.Equal(t, UpdateConversationDeleted, deleted[3].Event.(MessageUpdateEvent).Type)
}

type stubSummaries struct {
	fail map[string]bool
}

func (s stubSummaries) SummaryForUser(_ context.Context, userID, conversationID string) (*models.ConversationSummary, error) {
	if s.fail[userID] {
		return nil, errors.New("boom")
	}
	nick := "for " + userID
	return &models.ConversationSummary{ID: conversationID, Type: models.ConversationGroup, MyNickname: &nick}, nil
}

func TestDispatcher_DeliverNewMessage(t *testing.T) {
	router := NewRouter(nil)
	viewer := newTestClient()
	bobPhone := newTestClient()
	router.Join(viewer, ChatRoom("c1"))
	router.Join(bobPhone, UserRoom("bob"))
	d := NewDispatcher(router, nil)

	msg := &models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Text: "hello"}
	assert.Equal(t, 2, d.Deliver(PlanNewMessage("c1", msg, []string{"bob"})...))

	assert.Equal(t, []string{EventNewMessage}, eventNames(drain(t, viewer)))
	assert.Equal(t, []string{EventNewMessage}, eventNames(drain(t, bobPhone)))
}

func TestDispatcher_ConversationUpdatedPerMember(t *testing.T) {
	router := NewRouter(nil)
	alice := newTestClient()
	bob := newTestClient()
	viewer := newTestClient()
	router.Join(alice, UserRoom("alice"))
	router.Join(bob, UserRoom("bob"))
	router.Join(viewer, ChatRoom("c1"))
	d := NewDispatcher(router, stubSummaries{fail: map[string]bool{"bob": true}})

	d.ConversationUpdated(context.Background(), "c1", []string{"alice", "bob"})

	frames := drain(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, EventConversationUpdated, frames[0].Event)
	assert.Contains(t, string(frames[0].Data), `"myNickname":"for alice"`)

	assert.Empty(t, drain(t, bob), "a failed summary skips that member")

	marker := drain(t, viewer)
	require.Len(t, marker, 1)
	assert.JSONEq(t, `{"conversationId":"c1"}`, string(marker[0].Data))
}

func TestDispatcher_ConversationAdded(t *testing.T) {
	router := NewRouter(nil)
	carol := newTestClient()
	router.Join(carol, UserRoom("carol"))
	d := NewDispatcher(router, stubSummaries{})

	d.ConversationAdded(context.Background(), "c1", []string{"carol"})

	frames := drain(t, carol)
	require.Len(t, frames, 1)
	assert.Equal(t, EventConversationAdded, frames[0].Event)
}
