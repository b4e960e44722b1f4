//go:build !no_mqtt

package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default Home Assistant restart republish schedule: HA needs time to load
// its MQTT integration before it processes discovery.
const (
	DefaultRepublishDelay  = 30 * time.Second
	DefaultRepublishGap    = 2 * time.Second
	DefaultRepublishRounds = 2
)

// Republisher rebroadcasts discovery and state after Home Assistant comes
// back online. Each round sleeps Delay, republishes, then sleeps Gap.
type Republisher struct {
	Delay  time.Duration
	Gap    time.Duration
	Rounds int

	republish func()
	logger    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
	pending context.CancelFunc
	gen     uint64
	wg      sync.WaitGroup
}

// NewRepublisher creates a scheduler that calls republish on each round.
func NewRepublisher(republish func(), logger *slog.Logger) *Republisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Republisher{
		Delay:     DefaultRepublishDelay,
		Gap:       DefaultRepublishGap,
		Rounds:    DefaultRepublishRounds,
		republish: republish,
		logger:    logger.With("component", "republisher"),
		ctx:       ctx,
		stop:      cancel,
	}
}

// Trigger starts a republish cycle, cancelling one still running.
func (r *Republisher) Trigger() {
	r.mu.Lock()
	if r.pending != nil {
		r.pending()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.gen++
	gen := r.gen
	r.pending = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.gen == gen {
				r.pending = nil
			}
			r.mu.Unlock()
			cancel()
		}()
		r.run(ctx)
	}()
}

func (r *Republisher) run(ctx context.Context) {
	for i := 0; i < r.Rounds; i++ {
		if !sleep(ctx, r.Delay) {
			return
		}
		r.logger.Info("republishing devices", "round", i+1)
		r.republish()
		if !sleep(ctx, r.Gap) {
			return
		}
	}
}

// Stop cancels any running cycle and waits for it to exit.
func (r *Republisher) Stop() {
	r.stop()
	r.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
