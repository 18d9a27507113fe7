package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task is a scheduled background job.
type Task interface {
	Name() string
	Start() error
	Stop()
}

type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type StatusRefresher interface {
	RefreshStatus(ctx context.Context) error
}

// Periodic runs one job immediately on Start and then every interval. A run
// that is still going when the next tick fires causes that tick to be skipped.
// The first run goes through the same chain as the scheduled ones.
type Periodic struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	run      func(ctx context.Context) (int, error)
	job      cron.Job
	cron     *cron.Cron
	first    sync.WaitGroup
	logger   zerolog.Logger
}

func newPeriodic(name string, interval time.Duration, logger zerolog.Logger, run func(ctx context.Context) (int, error)) *Periodic {
	logger = logger.With().Str("task", name).Logger()
	cl := cronLogger{logger: logger}
	p := &Periodic{
		name:     name,
		interval: interval,
		timeout:  interval,
		run:      run,
		cron:     cron.New(cron.WithSeconds(), cron.WithLogger(cl)),
		logger:   logger,
	}
	p.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(p.RunOnce))
	return p
}

// NewPurgeTask deletes archived orders whose restore window has closed.
func NewPurgeTask(p Purger, interval time.Duration, logger zerolog.Logger) *Periodic {
	return newPeriodic("order-purge", interval, logger, p.PurgeExpired)
}

// NewCartSweepTask expires idle carts and gives their stock back.
func NewCartSweepTask(s Sweeper, interval time.Duration, logger zerolog.Logger) *Periodic {
	return newPeriodic("cart-sweep", interval, logger, s.SweepExpired)
}

// NewStoreWakeTask reloads the store status so a scheduled wake-up is
// announced even when nobody is reading the status.
func NewStoreWakeTask(s StatusRefresher, interval time.Duration, logger zerolog.Logger) *Periodic {
	return newPeriodic("store-wake", interval, logger, func(ctx context.Context) (int, error) {
		return 0, s.RefreshStatus(ctx)
	})
}

func (p *Periodic) Name() string {
	return p.name
}

func (p *Periodic) Start() error {
	if p.interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", p.name)
	}
	if _, err := p.cron.AddJob(fmt.Sprintf("@every %s", p.interval), p.job); err != nil {
		return fmt.Errorf("task %s: schedule: %w", p.name, err)
	}

	p.first.Add(1)
	go func() {
		defer p.first.Done()
		p.job.Run()
	}()
	p.cron.Start()
	p.logger.Info().Dur("interval", p.interval).Msg("task started")
	return nil
}

// Stop waits for running jobs, the first run included, to finish.
func (p *Periodic) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.first.Wait()
	p.logger.Info().Msg("task stopped")
}

// RunOnce executes the job once. Failures are logged; the next tick retries.
func (p *Periodic) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	n, err := p.run(ctx)
	if err != nil {
		p.logger.Error().Err(err).Int("processed", n).Msg("task run failed")
		return
	}
	if n > 0 {
		p.logger.Info().Int("processed", n).Dur("took", time.Since(start)).Msg("task run finished")
	}
}

// cronLogger adapts zerolog to cron's logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
