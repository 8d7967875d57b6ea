// Package seed creates demo users, conversations and messages. It is meant
// for development databases and tests only.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"lingochat/internal/models"
	"lingochat/internal/repository"
	"lingochat/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options controls random seeding.
type Options struct {
	Users               int
	Groups              int
	DirectPerUser       int
	MessagesPerChat     int
	MaxDays             int
	RandomSeed          int64
	ReactionProbability float64
}

// DefaultOptions is a small but lively dataset.
var DefaultOptions = Options{
	Users:               20,
	Groups:              4,
	DirectPerUser:       2,
	MessagesPerChat:     15,
	MaxDays:             14,
	ReactionProbability: 0.15,
}

var reactionEmojis = []string{"👍", "❤️", "😂", "🎉", "😮"}

// Seeder writes through the chat services so seeded data obeys the same
// rules as live traffic (canonical direct keys, roles, unread state).
type Seeder struct {
	db            *gorm.DB
	conversations *service.ConversationService
	messages      *service.MessageService
	faker         *gofakeit.Faker
	rng           *rand.Rand
	clock         time.Time
}

// NewSeeder binds a seeder to db.
func NewSeeder(db *gorm.DB, randomSeed int64) *Seeder {
	if randomSeed == 0 {
		randomSeed = time.Now().UnixNano()
	}
	users := repository.NewUserRepository(db)
	convs := repository.NewConversationRepository(db)
	msgs := repository.NewMessageRepository(db)
	directory := service.NewConversationService(convs, msgs, users)

	s := &Seeder{
		db:            db,
		conversations: directory,
		messages:      service.NewMessageService(convs, msgs, directory, nil),
		faker:         gofakeit.New(randomSeed),
		//nolint:gosec // weak randomness is fine for demo data
		rng:   rand.New(rand.NewSource(randomSeed)),
		clock: time.Now().UTC(),
	}
	s.conversations.SetClock(s.now)
	s.messages.SetClock(s.now)
	return s
}

func (s *Seeder) now() time.Time {
	return s.clock
}

// rewind moves the seeding clock back so later writes look days old.
func (s *Seeder) rewind(maxDays int) {
	if maxDays <= 0 {
		maxDays = 1
	}
	s.clock = time.Now().UTC().Add(-time.Duration(s.rng.Intn(maxDays*24*60)) * time.Minute)
}

func (s *Seeder) tick() {
	s.clock = s.clock.Add(time.Duration(1+s.rng.Intn(240)) * time.Second)
}

// ClearAll deletes every chat row, children first.
func (s *Seeder) ClearAll() error {
	log.Println("🗑️  Clearing chat data...")
	tables := []interface{}{
		&models.MessageHidden{},
		&models.MessageReaction{},
		&models.Message{},
		&models.ConversationMember{},
		&models.Conversation{},
		&models.User{},
	}
	for _, t := range tables {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(t).Error; err != nil {
			return fmt.Errorf("clear %T: %w", t, err)
		}
	}
	return nil
}

// Stats counts what a seeding run created.
type Stats struct {
	Users         int
	Conversations int
	Messages      int
	Reactions     int
}

// SeedRandom creates fake users, direct chats, groups and history.
func (s *Seeder) SeedRandom(ctx context.Context, opts Options) (*Stats, error) {
	stats := &Stats{}
	users, err := s.createUsers(opts.Users)
	if err != nil {
		return nil, fmt.Errorf("create users: %w", err)
	}
	stats.Users = len(users)
	if len(users) < 2 {
		return stats, nil
	}

	var convIDs []string
	for i, u := range users {
		for j := 0; j < opts.DirectPerUser; j++ {
			peer := users[(i+1+s.rng.Intn(len(users)-1))%len(users)]
			if peer.ID == u.ID {
				continue
			}
			s.rewind(opts.MaxDays)
			conv, created, err := s.conversations.FindOrCreateDirect(ctx, u.ID, peer.ID)
			if err != nil {
				return nil, fmt.Errorf("direct %s/%s: %w", u.ID, peer.ID, err)
			}
			if created {
				convIDs = append(convIDs, conv.ID)
			}
		}
	}

	if len(users) >= 3 {
		for g := 0; g < opts.Groups; g++ {
			size := 3 + s.rng.Intn(minInt(6, len(users)-2))
			perm := s.rng.Perm(len(users))[:size]
			ids := make([]string, 0, size-1)
			for _, p := range perm[1:] {
				ids = append(ids, users[p].ID)
			}
			s.rewind(opts.MaxDays)
			conv, err := s.conversations.CreateGroup(ctx, users[perm[0]].ID, s.groupTitle(), ids)
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", g, err)
			}
			convIDs = append(convIDs, conv.ID)
		}
	}
	stats.Conversations = len(convIDs)

	for _, id := range convIDs {
		sent, reacted, err := s.fillHistory(ctx, id, opts)
		if err != nil {
			return nil, err
		}
		stats.Messages += sent
		stats.Reactions += reacted
	}
	return stats, nil
}

func (s *Seeder) createUsers(n int) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		first, last := s.faker.FirstName(), s.faker.LastName()
		u := models.User{
			ID:        s.faker.UUID(),
			Name:      first + " " + last,
			Email:     fmt.Sprintf("%s.%s.%d@example.com", first, last, s.faker.Number(100, 999)),
			AvatarURL: fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID()),
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return users, nil
	}
	if err := s.db.CreateInBatches(&users, 100).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Seeder) groupTitle() string {
	switch s.rng.Intn(3) {
	case 0:
		return s.faker.City() + " trip"
	case 1:
		return s.faker.HipsterWord() + " club"
	default:
		return s.faker.Company()
	}
}

func (s *Seeder) fillHistory(ctx context.Context, conversationID string, opts Options) (int, int, error) {
	memberIDs, err := s.conversations.MemberIDs(ctx, conversationID)
	if err != nil {
		return 0, 0, err
	}
	if len(memberIDs) == 0 || opts.MessagesPerChat <= 0 {
		return 0, 0, nil
	}

	sent, reacted := 0, 0
	for i := 0; i < opts.MessagesPerChat; i++ {
		s.tick()
		sender := memberIDs[s.rng.Intn(len(memberIDs))]
		res, err := s.messages.Send(ctx, service.SendInput{
			SenderID:       sender,
			ConversationID: conversationID,
			Text:           s.faker.Sentence(3 + s.rng.Intn(12)),
		})
		if err != nil {
			return sent, reacted, fmt.Errorf("send in %s: %w", conversationID, err)
		}
		sent++

		if s.rng.Float64() < opts.ReactionProbability {
			reactor := memberIDs[s.rng.Intn(len(memberIDs))]
			emoji := reactionEmojis[s.rng.Intn(len(reactionEmojis))]
			if _, err := s.messages.ToggleReaction(ctx, reactor, res.Message.ID, emoji); err != nil {
				return sent, reacted, fmt.Errorf("react in %s: %w", conversationID, err)
			}
			reacted++
		}
	}
	return sent, reacted, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
