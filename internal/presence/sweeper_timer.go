package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// TimerSweeper periodically scans every live channel for elapsed pomodoro
// and break countdowns and drives the automatic transitions. It is the sole
// driver of timer expiry; no client command triggers it.
type TimerSweeper struct {
	registry    *Registry
	broadcaster interfaces.Broadcaster
	interval    time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewTimerSweeper creates a sweeper ticking at the given interval, on the
// order of seconds.
func NewTimerSweeper(registry *Registry, broadcaster interfaces.Broadcaster, interval time.Duration, logger *zap.Logger) *TimerSweeper {
	return &TimerSweeper{
		registry:    registry,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger,
	}
}

// Start begins ticking in the background.
func (s *TimerSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	s.shutdown = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx, s.shutdown)

	s.logger.Info("timer sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops accepting new ticks and waits for an in-flight tick to finish.
func (s *TimerSweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSweeperNotRunning
	}
	s.running = false
	close(s.shutdown)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("timer sweeper stopped")
	return nil
}

func (s *TimerSweeper) run(ctx context.Context, shutdown chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass over all channels. A failure in one channel is logged
// and does not abort the sweep of the rest.
func (s *TimerSweeper) Sweep(ctx context.Context, now time.Time) {
	for _, ch := range s.registry.Channels() {
		deltas := s.sweepChannel(ctx, ch, now)
		for _, delta := range deltas {
			s.broadcaster.BroadcastToChannel(delta.ChannelID, delta.Event, delta.Entry)
		}
	}
}

func (s *TimerSweeper) sweepChannel(ctx context.Context, ch *ChannelPresence, now time.Time) (deltas []types.PresenceDelta) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer sweep panicked for channel",
				zap.String("channel_id", ch.ID().String()), zap.Any("panic", r))
			deltas = nil
		}
	}()
	return ch.CheckExpiredTimers(ctx, now)
}
