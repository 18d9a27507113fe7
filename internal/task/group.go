package task

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

const DefaultTaskTimeout = 30 * time.Second

// Group runs fire-and-forget work such as compensating stock releases,
// cache warm-ups and notifications. Errors and panics are logged with the
// task name and never reach the caller.
type Group struct {
	wg       conc.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	timeout  time.Duration
	logger   zerolog.Logger
	failures atomic.Int64
}

func NewGroup(logger zerolog.Logger, timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger.With().Str("component", "tasks").Logger(),
	}
}

func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Go(func() {
		ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
		defer cancel()

		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() { err = fn(ctx) })

		if r := catcher.Recovered(); r != nil {
			g.failures.Add(1)
			g.logger.Error().Str("task", name).Err(r.AsError()).Bytes("stack", r.Stack).Msg("background task panicked")
			return
		}
		if err != nil {
			g.failures.Add(1)
			g.logger.Error().Str("task", name).Err(err).Msg("background task failed")
		}
	})
}

// Failures counts tasks that returned an error or panicked.
func (g *Group) Failures() int64 {
	return g.failures.Load()
}

// Shutdown waits for running tasks. When ctx expires first, the tasks' own
// contexts are canceled and ctx.Err() is returned.
func (g *Group) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		return ctx.Err()
	}
}
