// Command seed fills a development database with demo chat data.
package main

import (
	"context"
	"flag"
	"log"

	"lingochat/internal/config"
	"lingochat/internal/database"
	"lingochat/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions
	users := flag.Int("users", defaults.Users, "Number of random users to create")
	groups := flag.Int("groups", defaults.Groups, "Number of group conversations")
	directs := flag.Int("directs", defaults.DirectPerUser, "Direct conversations opened per user")
	messages := flag.Int("messages", defaults.MessagesPerChat, "Messages per conversation")
	randomSeed := flag.Int64("seed", 0, "Random seed (0 = time based)")
	fixture := flag.String("fixture", "", "YAML fixture to apply instead of random data")
	clean := flag.Bool("clean", false, "Delete existing chat data first")
	flag.Parse()

	log.Println("🌱 Chat Seeder")
	log.Println("==============")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db, *randomSeed)

	if *clean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	var stats *seed.Stats
	if *fixture != "" {
		log.Printf("Applying fixture %s", *fixture)
		fx, err := seed.LoadFixture(*fixture)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		stats, err = s.ApplyFixture(ctx, fx)
		if err != nil {
			log.Fatalf("❌ Fixture seeding failed: %v", err)
		}
	} else {
		opts := defaults
		opts.Users = *users
		opts.Groups = *groups
		opts.DirectPerUser = *directs
		opts.MessagesPerChat = *messages
		log.Printf("Target: %d users, %d groups, %d messages per chat", opts.Users, opts.Groups, opts.MessagesPerChat)
		stats, err = s.SeedRandom(ctx, opts)
		if err != nil {
			log.Fatalf("❌ Seeding failed: %v", err)
		}
	}

	log.Printf("✓ %d users, %d conversations, %d messages, %d reactions",
		stats.Users, stats.Conversations, stats.Messages, stats.Reactions)
	log.Println("✨ All done!")
}
