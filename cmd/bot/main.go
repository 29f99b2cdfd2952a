// Package main - точка входа Telegram-бота bookfeed.
//
// Идея: книга приходит к читателю сама. Пользователь загружает PDF, выбирает
// расписание, и бот отправляет очередные страницы порциями - прогресс,
// серии и достижения считаются автоматически.
//
// Слои:
// - Domain: чистая модель прогресса чтения без внешних зависимостей
// - Gamification: детерминированное начисление очков и достижений
// - Store: PostgreSQL (источник истины) + Redis (горячий лидерборд)
// - Delivery: планировщик состояния и диспетчер обхода пользователей
// - Notifier: адаптер Telegram Bot API
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bookfeed-bot/bookfeed/config"
	"github.com/bookfeed-bot/bookfeed/internal/delivery"
	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/gamification"
	"github.com/bookfeed-bot/bookfeed/internal/leaderboard"
	"github.com/bookfeed-bot/bookfeed/internal/notifier/telegram"
	"github.com/bookfeed-bot/bookfeed/internal/renderer"
	"github.com/bookfeed-bot/bookfeed/internal/store/memory"
	"github.com/bookfeed-bot/bookfeed/internal/store/postgres"
	redisstore "github.com/bookfeed-bot/bookfeed/internal/store/redis"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY POINT
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bookfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────

	// .env отсутствует в проде - это не ошибка.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────

	log := setupLogger(cfg)
	log.Info("starting bookfeed",
		"version", cfg.App.Version,
		"environment", string(cfg.App.Environment),
		"timezone", cfg.App.Timezone,
	)

	clock := timeutil.SystemClock{}
	engine := gamification.New(cfg.App.Location)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ ПРОГРЕССА (PostgreSQL или in-memory)
	// ─────────────────────────────────────────────────────────────────────────

	var store reading.ProgressStore

	switch cfg.Database.Driver {
	case config.StorageMemory:
		log.Warn("using in-memory store, all progress is lost on restart")
		store = memory.NewStore(engine, clock)

	default:
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer conn.Close()

		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database ready")

		store = postgres.NewStore(conn, engine, clock)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS: КЕШ ЛИДЕРБОРДА (опционально)
	// ─────────────────────────────────────────────────────────────────────────

	var lbCache *redisstore.LeaderboardCache

	if cfg.Redis.Disabled {
		log.Info("redis disabled, leaderboard reads go to the store")
	} else {
		cache, err := redisstore.NewCache(redisstore.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// Лидерборд переживёт без кеша, доставка - важнее.
			log.Warn("redis unavailable, continuing without leaderboard cache", "error", err)
		} else {
			defer cache.Close()
			lbCache = redisstore.NewLeaderboardCache(cache)
			log.Info("redis connected", "addr", cfg.RedisAddr())
		}
	}

	lb := leaderboard.NewService(store, lbCache, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. РЕНДЕРЕР СТРАНИЦ
	// ─────────────────────────────────────────────────────────────────────────

	source := renderer.NewPDFSource(cfg.Renderer.WorkDir)
	pages := renderer.New(source, renderer.Config{
		CacheEntries:  cfg.Renderer.CacheEntries,
		CacheBytes:    int(cfg.Renderer.CacheBytes),
		RenderTimeout: cfg.Renderer.RenderTimeout,
		Workers:       cfg.Renderer.Workers,
		Logger:        log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TELEGRAM
	// ─────────────────────────────────────────────────────────────────────────

	tgConfig := telegram.DefaultClientConfig(cfg.Telegram.Token)
	tgConfig.BaseURL = cfg.Telegram.BaseURL
	tgConfig.Timeout = cfg.Telegram.RequestTimeout
	tgConfig.Logger = log
	tgConfig.Debug = cfg.App.Debug

	tgClient := telegram.NewClient(tgConfig)

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	me, err := tgClient.GetMe(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	log.Info("telegram connected", "bot", me.Username)

	notifier := telegram.NewNotifier(tgClient, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПЛАНИРОВЩИК И ДИСПЕТЧЕР ДОСТАВКИ
	// ─────────────────────────────────────────────────────────────────────────

	scheduler := delivery.NewScheduler(store, pages, notifier, clock, delivery.Config{
		Location:      cfg.App.Location,
		NotifyTimeout: cfg.Dispatcher.NotifyTimeout,
		Observer:      lb,
		Logger:        log,
	})

	dispatcher := delivery.NewDispatcher(scheduler, store, delivery.DispatcherConfig{
		SweepInterval: cfg.Dispatcher.SweepInterval,
		Concurrency:   cfg.Dispatcher.Concurrency,
		Logger:        log,
	})

	if cfg.Dispatcher.Enabled {
		dispatcher.Start(ctx)
	} else {
		log.Warn("dispatcher disabled, scheduled delivery is off")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ОЖИДАНИЕ ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────

	<-ctx.Done()
	log.Info("shutting down", "timeout", cfg.App.ShutdownTimeout.String())

	done := make(chan struct{})
	go func() {
		if cfg.Dispatcher.Enabled {
			dispatcher.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("shutdown complete")
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timed out")
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
