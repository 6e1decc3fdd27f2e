package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"musicschool/internal/api"
	"musicschool/internal/availability"
	"musicschool/internal/config"
	"musicschool/internal/database"
	"musicschool/internal/domain"
	"musicschool/internal/events"
	"musicschool/internal/export"
	"musicschool/internal/logging"
	"musicschool/internal/metrics"
	"musicschool/internal/models"
	"musicschool/internal/notify"
	"musicschool/internal/repository"
	"musicschool/internal/service"
	"musicschool/internal/timezone"
	"musicschool/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms, err := loadRooms(cfg, logger)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	clock := timezone.New(cfg.App.Timezone, logger)

	roomService := service.NewRoomService(db, models.RoomsCacheTTL*time.Second, logging.Component(logger, "rooms"))
	if err := roomService.SeedRooms(ctx, rooms); err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}

	engine := availability.NewEngine(service.NewAvailabilitySource(roomService, db), clock, logging.Component(logger, "availability"))
	eventBus := events.NewEventBus(logging.Component(logger, "events"))
	bookingService := service.NewBookingService(db, engine, eventBus, clock, cfg.Booking.MaxDaysAhead, logging.Component(logger, "bookings"))

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	notificationWorker := worker.NewNotificationWorker(
		db,
		initNotifier(cfg, logger),
		redisClient,
		worker.RetryPolicyFromConfig(cfg.Booking.Notifications),
		logging.Component(logger, "notifications"),
	)
	notificationWorker.Subscribe(eventBus)
	go notificationWorker.Start(ctx)

	sweeper, err := worker.NewSweeper(bookingService, cfg.Booking.SweepSchedule, clock.Location(), logging.Component(logger, "sweeper"))
	if err != nil {
		return err
	}
	go sweeper.Start(ctx)

	go database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Engine:      engine,
		Bookings:    bookingService,
		Rooms:       roomService,
		Exporter:    export.NewScheduleExporter(db, clock, logging.Component(logger, "export")),
		Submissions: initSubmissionLimiter(redisClient, logger),
		DeadLetters: db,
		Health:      db,
	}, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, engine, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// loadRooms merges the rooms from the main config with an optional rooms file
// (ROOMS_PATH). Entries from the file win on id clashes.
func loadRooms(cfg *config.Config, logger *zerolog.Logger) ([]models.Room, error) {
	rooms := append([]models.Room(nil), cfg.Rooms...)

	roomsPath := os.Getenv("ROOMS_PATH")
	if roomsPath == "" {
		return rooms, nil
	}
	data, err := os.ReadFile(roomsPath)
	if err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("read rooms")
		return nil, err
	}

	var roomsConfig struct {
		Rooms []models.Room `yaml:"rooms"`
	}
	if err := yaml.Unmarshal(data, &roomsConfig); err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("parse rooms")
		return nil, err
	}

	merged := mergeRooms(rooms, roomsConfig.Rooms)
	if err := config.ValidateRooms(merged); err != nil {
		return nil, fmt.Errorf("rooms file %s: %w", roomsPath, err)
	}
	logger.Info().Int("count", len(merged)).Str("rooms_path", roomsPath).Msg("rooms loaded")
	return merged, nil
}

func mergeRooms(base, overrides []models.Room) []models.Room {
	index := make(map[string]int, len(base))
	for i, r := range base {
		index[r.ID] = i
	}
	for _, r := range overrides {
		if i, ok := index[r.ID]; ok {
			base[i] = r
			continue
		}
		index[r.ID] = len(base)
		base = append(base, r)
	}
	return base
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initSubmissionLimiter prefers Redis so limits hold across instances and
// falls back to process memory.
func initSubmissionLimiter(redisClient *redis.Client, logger *zerolog.Logger) domain.RateLimitStore {
	memory := repository.NewMemoryRateLimitStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverRateLimitStore(
		repository.NewRedisRateLimitStore(redisClient),
		memory,
		logging.Component(logger, "rate-limit"),
	)
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	logNotifier := notify.NewLogNotifier(logging.Component(logger, "notify"))
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.AdminChatIDs) == 0 {
		return logNotifier
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, notifications go to the log only")
		return logNotifier
	}
	bot.Debug = cfg.Telegram.Debug
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier ready")

	return notify.Multi{
		logNotifier,
		notify.NewTelegramNotifier(bot, cfg.Telegram.AdminChatIDs, logging.Component(logger, "telegram")),
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
