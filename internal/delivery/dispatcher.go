package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// SweepStats aggregates the outcome of one dispatcher sweep.
type SweepStats struct {
	Swept     int
	Delivered int
	Idle      int
	Failed    int
	Elapsed   time.Duration
}

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	// SweepInterval is the period between sweeps.
	SweepInterval time.Duration

	// Concurrency caps how many user ticks run at once.
	Concurrency int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		SweepInterval: time.Minute,
		Concurrency:   8,
	}
}

// Dispatcher periodically sweeps all active users and runs a delivery tick
// for each. Per-user failures are logged and skipped; the sweep always
// finishes the remaining users.
type Dispatcher struct {
	scheduler *Scheduler
	store     reading.ProgressStore

	interval    time.Duration
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(scheduler *Scheduler, store reading.ProgressStore, cfg DispatcherConfig) *Dispatcher {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		scheduler:   scheduler,
		store:       store,
		interval:    cfg.SweepInterval,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Start launches the background sweep loop. It returns immediately; the loop
// runs until Stop is called or the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.loop(ctx)
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	d.logger.Info("dispatcher started", "sweep_interval", d.interval.String(), "concurrency", d.concurrency)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			stats, err := d.Sweep(ctx)
			if err != nil {
				// Transient storage trouble: skip this sweep, the
				// next one retries the full user list.
				d.logger.Error("sweep failed", "error", err)
				continue
			}
			if stats.Swept > 0 {
				d.logger.Info("sweep finished",
					"swept", stats.Swept,
					"delivered", stats.Delivered,
					"idle", stats.Idle,
					"failed", stats.Failed,
					"elapsed", stats.Elapsed.String(),
				)
			}
		}
	}
}

// Sweep runs one delivery tick for every active user, bounded by the
// configured concurrency.
func (d *Dispatcher) Sweep(ctx context.Context) (*SweepStats, error) {
	start := time.Now()

	users, err := d.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}

	stats := &SweepStats{Swept: len(users)}
	if len(users) == 0 {
		stats.Elapsed = time.Since(start)
		return stats, nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, d.concurrency)
	)

	for _, user := range users {
		select {
		case <-ctx.Done():
			stats.Elapsed = time.Since(start)
			wg.Wait()
			return stats, ctx.Err()
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(u *reading.User) {
			defer wg.Done()
			defer func() { <-semaphore }()

			result, err := d.scheduler.Tick(ctx, u)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				stats.Failed++
				d.logger.Error("tick failed",
					"user_id", int64(u.ID),
					"error", err,
				)
			case result.State == StateFailed:
				stats.Failed++
			case result.Sent():
				stats.Delivered++
			default:
				stats.Idle++
			}
		}(user)
	}

	wg.Wait()
	stats.Elapsed = time.Since(start)
	return stats, nil
}
