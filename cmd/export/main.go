package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"musicschool/internal/config"
	"musicschool/internal/database"
	"musicschool/internal/export"
	"musicschool/internal/logging"
	"musicschool/internal/models"
	"musicschool/internal/timezone"
)

// Writes the schedule workbook for a date range into exports.path.
// Without flags the current week (today plus six days) is exported.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	clock := timezone.New(cfg.App.Timezone, logger)
	today := clock.Now()
	var (
		from = flag.String("from", today.Format(models.DateLayout), "first date, YYYY-MM-DD")
		to   = flag.String("to", today.AddDate(0, 0, 6).Format(models.DateLayout), "last date, YYYY-MM-DD")
		dir  = flag.String("out", cfg.Exports.Path, "output directory")
	)
	flag.Parse()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	exporter := export.NewScheduleExporter(db, clock, logging.Component(logger, "export"))
	path, err := exporter.ExportToFile(ctx, *from, *to, *dir)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
