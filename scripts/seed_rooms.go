package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"musicschool/internal/config"
	"musicschool/internal/database"
	"musicschool/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type roomsFile struct {
	Rooms []models.Room `yaml:"rooms"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		roomsPath = flag.String("rooms", "configs/rooms.yaml", "path to rooms.yaml")
		dbPath    = flag.String("db", "./data/musicschool.db", "path to sqlite db")
		hideOther = flag.Bool("hide-missing", false, "hide stored rooms that are absent from the file")
	)
	flag.Parse()

	data, err := os.ReadFile(*roomsPath)
	if err != nil {
		return fmt.Errorf("read rooms: %w", err)
	}
	var file roomsFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rooms: %w", err)
	}
	if len(file.Rooms) == 0 {
		return fmt.Errorf("no rooms in yaml")
	}
	if err = config.ValidateRooms(file.Rooms); err != nil {
		return err
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	existing, err := db.GetAllRooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[r.ID] = true
	}

	created, updated := 0, 0
	inFile := make(map[string]bool, len(file.Rooms))
	for i := range file.Rooms {
		room := &file.Rooms[i]
		inFile[room.ID] = true
		if err := db.UpsertRoom(ctx, room); err != nil {
			return fmt.Errorf("upsert room %s: %w", room.ID, err)
		}
		if known[room.ID] {
			updated++
		} else {
			created++
		}
	}

	hidden := 0
	if *hideOther {
		for _, r := range existing {
			if inFile[r.ID] || !r.IsVisible {
				continue
			}
			if err := db.SetRoomVisibility(ctx, r.ID, false); err != nil {
				return fmt.Errorf("hide room %s: %w", r.ID, err)
			}
			hidden++
		}
	}

	logger.Info().Int("created", created).Int("updated", updated).Int("hidden", hidden).Msg("rooms seeded")
	return nil
}
