package repository

import (
	"context"
	"testing"
	"time"

	"lingochat/internal/database"
	"lingochat/internal/models"
	"lingochat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func strPtr(s string) *string { return &s }

func newDirect(t *testing.T, repo ConversationRepository, id string, key *string, at time.Time, a, b string) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{
		ID:          id,
		Type:        models.ConversationDirect,
		DirectKey:   key,
		CreatedByID: a,
		CreatedAt:   at,
	}
	members := []models.ConversationMember{
		{ConversationID: id, UserID: a, Role: models.RoleMember, JoinedAt: at},
		{ConversationID: id, UserID: b, Role: models.RoleMember, JoinedAt: at},
	}
	require.NoError(t, repo.Create(context.Background(), conv, members))
	return conv
}

func TestConversationRepository_DirectKey(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob")
	repo := NewConversationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	key := models.DirectKey("bob", "alice")
	newDirect(t, repo, "c1", &key, now, "alice", "bob")

	t.Run("lookup by key preloads members", func(t *testing.T) {
		conv, err := repo.GetByDirectKey(ctx, "alice:bob")
		require.NoError(t, err)
		assert.Equal(t, "c1", conv.ID)
		require.Len(t, conv.Members, 2)
		require.NotNil(t, conv.Members[0].User)
	})

	t.Run("second row with same key is a unique violation", func(t *testing.T) {
		dup := &models.Conversation{ID: "c2", Type: models.ConversationDirect, DirectKey: &key, CreatedByID: "bob"}
		err := repo.Create(ctx, dup, nil)
		require.Error(t, err)
		assert.True(t, database.IsUniqueViolation(err))

		_, err = repo.GetByID(ctx, "c2")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("groups may share a null key", func(t *testing.T) {
		for _, id := range []string{"g1", "g2"} {
			g := &models.Conversation{ID: id, Type: models.ConversationGroup, Title: strPtr("Study"), CreatedByID: "alice"}
			require.NoError(t, repo.Create(ctx, g, nil))
		}
	})
}

func TestConversationRepository_FindLegacyDirect(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob", "carol")
	repo := NewConversationRepository(db)
	ctx := context.Background()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	newDirect(t, repo, "newer", nil, base.Add(time.Hour), "bob", "alice")
	newDirect(t, repo, "older", nil, base, "alice", "bob")
	newDirect(t, repo, "other", nil, base, "alice", "carol")

	// three members is not a legacy pair
	crowd := &models.Conversation{ID: "crowd", Type: models.ConversationDirect, CreatedByID: "alice", CreatedAt: base}
	require.NoError(t, repo.Create(ctx, crowd, []models.ConversationMember{
		{ConversationID: "crowd", UserID: "alice", JoinedAt: base},
		{ConversationID: "crowd", UserID: "bob", JoinedAt: base},
		{ConversationID: "crowd", UserID: "carol", JoinedAt: base},
	}))

	found, err := repo.FindLegacyDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "older", found[0].ID)
	assert.Equal(t, "newer", found[1].ID)

	ok, err := repo.BackfillDirectKey(ctx, "older", "alice:bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.BackfillDirectKey(ctx, "older", "alice:bob")
	require.NoError(t, err)
	assert.False(t, ok, "already keyed rows are left alone")

	found, err = repo.FindLegacyDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "newer", found[0].ID)
}

func TestConversationRepository_ListForUserOrdering(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob", "carol")
	repo := NewConversationRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	k1 := models.DirectKey("alice", "bob")
	k2 := models.DirectKey("alice", "carol")
	newDirect(t, repo, "ab", &k1, base, "alice", "bob")
	newDirect(t, repo, "ac", &k2, base.Add(time.Minute), "alice", "carol")

	convs, err := repo.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "ac", convs[0].ID)

	require.NoError(t, repo.TouchLastMessageAt(ctx, "ab", base.Add(time.Hour)))
	// an older timestamp never moves the marker back
	require.NoError(t, repo.TouchLastMessageAt(ctx, "ab", base.Add(30*time.Minute)))

	convs, err = repo.ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "ab", convs[0].ID)
	require.NotNil(t, convs[0].LastMessageAt)
	assert.True(t, convs[0].LastMessageAt.Equal(base.Add(time.Hour)))
	assert.Len(t, convs[0].Members, 2, "join must not filter preloaded members")

	convs, err = repo.ListForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestConversationRepository_Membership(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob", "carol", "dave")
	repo := NewConversationRepository(db)
	msgs := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	group := &models.Conversation{ID: "g", Type: models.ConversationGroup, Title: strPtr("Study"), CreatedByID: "alice"}
	require.NoError(t, repo.Create(ctx, group, []models.ConversationMember{
		{ConversationID: "g", UserID: "alice", Role: models.RoleOwner, JoinedAt: now},
		{ConversationID: "g", UserID: "bob", Role: models.RoleMember, JoinedAt: now},
		{ConversationID: "g", UserID: "carol", Role: models.RoleMember, JoinedAt: now},
	}))

	t.Run("add members skips existing", func(t *testing.T) {
		err := repo.AddMembers(ctx, []models.ConversationMember{
			{ConversationID: "g", UserID: "bob", Role: models.RoleMember, JoinedAt: now},
			{ConversationID: "g", UserID: "dave", Role: models.RoleMember, JoinedAt: now},
		})
		require.NoError(t, err)

		ids, err := repo.MemberIDs(ctx, "g")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, ids)
	})

	t.Run("update member", func(t *testing.T) {
		require.NoError(t, repo.UpdateMember(ctx, "g", "bob", map[string]interface{}{"nickname": "Bobby"}))
		m, err := repo.GetMember(ctx, "g", "bob")
		require.NoError(t, err)
		require.NotNil(t, m.Nickname)
		assert.Equal(t, "Bobby", m.DisplayName())

		err = repo.UpdateMember(ctx, "g", "nobody", map[string]interface{}{"nickname": "x"})
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("transfer ownership", func(t *testing.T) {
		require.NoError(t, repo.TransferOwnership(ctx, "g", "alice", "carol"))
		carol, err := repo.GetMember(ctx, "g", "carol")
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, carol.Role)
		alice, err := repo.GetMember(ctx, "g", "alice")
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, alice.Role)

		assert.ErrorIs(t, repo.TransferOwnership(ctx, "g", "carol", "nobody"), gorm.ErrRecordNotFound)
	})

	t.Run("removing the last member deletes everything", func(t *testing.T) {
		msg := &models.Message{ID: "m1", ConversationID: "g", SenderID: "alice", Text: "hi", Type: models.MessageText}
		require.NoError(t, msgs.Create(ctx, msg))
		_, err := msgs.ToggleReaction(ctx, &models.MessageReaction{ID: "r1", MessageID: "m1", UserID: "bob", Emoji: "👍"})
		require.NoError(t, err)
		require.NoError(t, msgs.Hide(ctx, &models.MessageHidden{UserID: "bob", MessageID: "m1"}))

		for i, id := range []string{"alice", "bob", "carol"} {
			remaining, deleted, err := repo.RemoveMember(ctx, "g", id)
			require.NoError(t, err)
			assert.False(t, deleted)
			assert.Len(t, remaining, 3-i)
		}

		remaining, deleted, err := repo.RemoveMember(ctx, "g", "dave")
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Empty(t, remaining)

		_, err = repo.GetByID(ctx, "g")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		_, err = msgs.GetByID(ctx, "m1")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		var leftovers int64
		db.Model(&models.MessageReaction{}).Count(&leftovers)
		assert.Zero(t, leftovers)
		db.Model(&models.MessageHidden{}).Count(&leftovers)
		assert.Zero(t, leftovers)
	})

	t.Run("removing a non member", func(t *testing.T) {
		_, _, err := repo.RemoveMember(ctx, "g", "alice")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}
