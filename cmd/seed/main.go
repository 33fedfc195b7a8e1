// Command seed fills the comment tables with demo threads.
package main

import (
	"flag"
	"log"
	"time"

	"colloquy/internal/config"
	"colloquy/internal/database"
	"colloquy/internal/observability"
	"colloquy/internal/seed"

	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	defaults := seed.DefaultOptions()
	threads := flag.Int("threads", defaults.Threads, "Threads to create per kind")
	comments := flag.Int("comments", defaults.CommentsPerThread, "Top-level comments per thread")
	replies := flag.Int("replies", defaults.MaxReplies, "Maximum replies per comment")
	viewers := flag.Int("viewers", defaults.Viewers, "Distinct viewer IDs authoring and reacting")
	rate := flag.Float64("reaction-rate", defaults.ReactionRate, "Probability a viewer reacts to a comment")
	seedValue := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	shouldClean := flag.Bool("clean", true, "Clean comment tables before seeding")
	sqlitePath := flag.String("sqlite", "", "Seed a local SQLite file instead of PostgreSQL")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from the environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.SetupLogger(cfg.Env)

	var db *gorm.DB
	if *sqlitePath != "" {
		db, err = gorm.Open(sqlite.Open(*sqlitePath), &gorm.Config{
			Logger: database.NewGormLogger(observability.Logger),
		})
		if err == nil {
			err = database.Migrate(db)
		}
	} else {
		db, err = database.Connect(cfg)
	}
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		Threads:           *threads,
		CommentsPerThread: *comments,
		MaxReplies:        *replies,
		Viewers:           *viewers,
		ReactionRate:      *rate,
		MaxDays:           defaults.MaxDays,
		Seed:              *seedValue,
	})

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	results, err := s.SeedAll()
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	for kind, res := range results {
		log.Printf("%s: %d comments, %d replies, %d reactions", kind, res.Comments, res.Replies, res.Reactions)
	}
}
