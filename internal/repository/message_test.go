package repository

import (
	"context"
	"testing"
	"time"

	"lingochat/internal/models"
	"lingochat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessages(t *testing.T, repo MessageRepository, convID string, base time.Time, senders ...string) {
	t.Helper()
	for i, sender := range senders {
		msg := &models.Message{
			ID:             convID + "-m" + string(rune('a'+i)),
			ConversationID: convID,
			SenderID:       sender,
			Text:           "message " + string(rune('a'+i)),
			Type:           models.MessageText,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), msg))
	}
}

func TestMessageRepository_ListForViewer(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob")
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	seedMessages(t, repo, "c", base, "alice", "bob", "alice", "bob", "alice")

	t.Run("ascending window of newest", func(t *testing.T) {
		msgs, err := repo.ListForViewer(ctx, "c", "alice", nil, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "c-mc", msgs[0].ID)
		assert.Equal(t, "c-me", msgs[2].ID)
		require.NotNil(t, msgs[0].Sender)
		assert.Equal(t, "alice", msgs[0].Sender.Name)
		assert.NotNil(t, msgs[0].Attachments)
	})

	t.Run("before cursor", func(t *testing.T) {
		cursor := base.Add(2 * time.Minute)
		msgs, err := repo.ListForViewer(ctx, "c", "alice", &cursor, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "c-ma", msgs[0].ID)
		assert.Equal(t, "c-mb", msgs[1].ID)
	})

	t.Run("hidden messages are per viewer", func(t *testing.T) {
		require.NoError(t, repo.Hide(ctx, &models.MessageHidden{UserID: "bob", MessageID: "c-me"}))
		require.NoError(t, repo.Hide(ctx, &models.MessageHidden{UserID: "bob", MessageID: "c-me"}))

		bobView, err := repo.ListForViewer(ctx, "c", "bob", nil, 10)
		require.NoError(t, err)
		assert.Len(t, bobView, 4)

		aliceView, err := repo.ListForViewer(ctx, "c", "alice", nil, 10)
		require.NoError(t, err)
		assert.Len(t, aliceView, 5)

		latest, err := repo.LatestVisible(ctx, "c", "bob")
		require.NoError(t, err)
		assert.Equal(t, "c-md", latest.ID)

		hidden, err := repo.IsHidden(ctx, "bob", "c-me")
		require.NoError(t, err)
		assert.True(t, hidden)
	})

	t.Run("latest of empty conversation", func(t *testing.T) {
		latest, err := repo.LatestVisible(ctx, "empty", "alice")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}

func TestMessageRepository_Unread(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob", "carol")
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	bob := "bob"

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.Message{
			ID:             "d" + string(rune('0'+i)),
			ConversationID: "direct",
			SenderID:       "alice",
			ReceiverID:     &bob,
			Text:           "hi",
			Type:           models.MessageText,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := repo.CountUnreadDirect(ctx, "direct", "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = repo.CountUnreadDirect(ctx, "direct", "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	marked, err := repo.MarkDirectRead(ctx, "direct", "bob", base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 3, marked)

	n, err = repo.CountUnreadDirect(ctx, "direct", "bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	seedMessages(t, repo, "group", base, "alice", "bob", "alice", "carol")
	require.NoError(t, repo.Update(ctx, "group-mc", map[string]interface{}{
		"text":       "",
		"deleted_at": base.Add(time.Hour),
	}))

	// bob last read before the first message: alice(a), carol(d); c is revoked
	n, err = repo.CountUnreadGroup(ctx, "group", "bob", base.Add(-time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.CountUnreadGroup(ctx, "group", "bob", base.Add(90*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMessageRepository_ToggleReaction(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	seedMessages(t, repo, "c", time.Now().UTC(), "alice")

	added, err := repo.ToggleReaction(ctx, &models.MessageReaction{ID: "r1", MessageID: "c-ma", UserID: "bob", Emoji: "👍"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.ToggleReaction(ctx, &models.MessageReaction{ID: "r2", MessageID: "c-ma", UserID: "alice", Emoji: "👍"})
	require.NoError(t, err)
	assert.True(t, added)

	reactions, err := repo.ListReactions(ctx, "c-ma")
	require.NoError(t, err)
	require.Len(t, reactions, 2)
	assert.Equal(t, "bob", reactions[0].UserID)

	added, err = repo.ToggleReaction(ctx, &models.MessageReaction{ID: "r3", MessageID: "c-ma", UserID: "bob", Emoji: "👍"})
	require.NoError(t, err)
	assert.False(t, added)

	msg, err := repo.GetByID(ctx, "c-ma")
	require.NoError(t, err)
	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, "alice", msg.Reactions[0].UserID)
}

func TestMessageRepository_CountAttachmentRefs(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob")
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	for i, sender := range []string{"alice", "bob"} {
		require.NoError(t, repo.Create(ctx, &models.Message{
			ID:             "att-" + sender,
			ConversationID: "c",
			SenderID:       sender,
			Type:           models.MessageFile,
			Attachments:    models.Attachments{{URL: "/uploads/chat/report.pdf", Name: "report.pdf"}},
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	count, err := repo.CountAttachmentRefs(ctx, "/uploads/chat/report.pdf", "att-alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = repo.CountAttachmentRefs(ctx, "/uploads/chat/report", "att-alice")
	require.NoError(t, err)
	assert.Zero(t, count, "prefixes of a url do not match")
}
