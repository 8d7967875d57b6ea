package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"lingochat/internal/models"
	"lingochat/internal/service"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm/clause"
)

// Fixture is a hand-written dataset, usually loaded from YAML:
//
//	users:
//	  - {id: alice, name: Alice}
//	directs:
//	  - [alice, bob]
//	groups:
//	  - title: Weekend
//	    owner: alice
//	    members: [bob, carol]
//	messages:
//	  - {from: alice, to: bob, text: "hi"}
//	  - {from: bob, group: Weekend, text: "who's in?"}
type Fixture struct {
	Users    []FixtureUser    `yaml:"users"`
	Directs  [][]string       `yaml:"directs"`
	Groups   []FixtureGroup   `yaml:"groups"`
	Messages []FixtureMessage `yaml:"messages"`
}

type FixtureUser struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	AvatarURL string `yaml:"avatarUrl"`
}

type FixtureGroup struct {
	Title   string   `yaml:"title"`
	Owner   string   `yaml:"owner"`
	Members []string `yaml:"members"`
}

// FixtureMessage targets a direct chat with To or a group by title with Group.
type FixtureMessage struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Group string `yaml:"group"`
	Text  string `yaml:"text"`
}

// ParseFixture decodes and validates YAML fixture data.
func ParseFixture(data []byte) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

func (fx *Fixture) validate() error {
	known := make(map[string]bool, len(fx.Users))
	for _, u := range fx.Users {
		if strings.TrimSpace(u.ID) == "" {
			return errors.New("fixture user without id")
		}
		known[u.ID] = true
	}
	groups := make(map[string]bool, len(fx.Groups))
	for _, g := range fx.Groups {
		groups[g.Title] = true
	}
	for _, d := range fx.Directs {
		if len(d) != 2 {
			return fmt.Errorf("direct entry %v must name two users", d)
		}
	}
	for i, m := range fx.Messages {
		if !known[m.From] {
			return fmt.Errorf("message %d: unknown sender %q", i, m.From)
		}
		if (m.To == "") == (m.Group == "") {
			return fmt.Errorf("message %d: exactly one of to and group is required", i)
		}
		if m.Group != "" && !groups[m.Group] {
			return fmt.Errorf("message %d: unknown group %q", i, m.Group)
		}
	}
	return nil
}

// ApplyFixture upserts the fixture's users and creates its conversations and
// messages. Direct chats are found-or-created, so reapplying does not
// duplicate them; groups and messages are always new.
func (s *Seeder) ApplyFixture(ctx context.Context, fx *Fixture) (*Stats, error) {
	stats := &Stats{}
	for _, fu := range fx.Users {
		u := models.User{ID: fu.ID, Name: fu.Name, Email: fu.Email, AvatarURL: fu.AvatarURL}
		if u.Name == "" {
			u.Name = fu.ID
		}
		if u.Email == "" {
			u.Email = fu.ID + "@example.com"
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "avatar_url"}),
		}).Create(&u).Error
		if err != nil {
			return nil, fmt.Errorf("upsert user %s: %w", fu.ID, err)
		}
		stats.Users++
	}

	for _, d := range fx.Directs {
		_, created, err := s.conversations.FindOrCreateDirect(ctx, d[0], d[1])
		if err != nil {
			return nil, fmt.Errorf("direct %s/%s: %w", d[0], d[1], err)
		}
		if created {
			stats.Conversations++
		}
	}

	groupIDs := make(map[string]string, len(fx.Groups))
	for _, g := range fx.Groups {
		conv, err := s.conversations.CreateGroup(ctx, g.Owner, g.Title, g.Members)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Title, err)
		}
		groupIDs[g.Title] = conv.ID
		stats.Conversations++
	}

	for i, m := range fx.Messages {
		s.tick()
		in := service.SendInput{SenderID: m.From, Text: m.Text}
		if m.Group != "" {
			in.ConversationID = groupIDs[m.Group]
		} else {
			in.OtherUserID = m.To
		}
		res, err := s.messages.Send(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if res.ConversationCreated {
			stats.Conversations++
		}
		stats.Messages++
	}
	return stats, nil
}
