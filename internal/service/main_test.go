package service

import (
	"context"
	"sync"
	"testing"

	"lingochat/internal/models"
	"lingochat/internal/repository"
	"lingochat/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeFiles struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeFiles) DeleteByURL(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return f.err
}

type fixture struct {
	db    *gorm.DB
	clock *testutil.Clock
	convs *ConversationService
	msgs  *MessageService
	files *fakeFiles
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, users...)

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)

	clock := testutil.NewClock()
	files := &fakeFiles{}
	convs := NewConversationService(convRepo, msgRepo, userRepo)
	convs.SetClock(clock.Now)
	msgs := NewMessageService(convRepo, msgRepo, convs, files)
	msgs.SetClock(clock.Now)

	return &fixture{db: db, clock: clock, convs: convs, msgs: msgs, files: files}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, models.ErrorCode(err), "unexpected error: %v", err)
}
