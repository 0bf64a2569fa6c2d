package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// ZombieSweeper periodically finds users whose every connection is gone
// (browser closed without a clean disconnect, network partition, or a user
// deliberately kept in session through the grace window) and forces them
// offline once the grace period elapses, recording any in-progress study
// interval first. It runs on a long interval, on the order of tens of
// minutes, with a grace on the order of hours.
type ZombieSweeper struct {
	registry    *Registry
	broadcaster interfaces.Broadcaster
	interval    time.Duration
	grace       time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewZombieSweeper(registry *Registry, broadcaster interfaces.Broadcaster, interval, grace time.Duration, logger *zap.Logger) *ZombieSweeper {
	return &ZombieSweeper{
		registry:    registry,
		broadcaster: broadcaster,
		interval:    interval,
		grace:       grace,
		logger:      logger,
	}
}

// Start begins ticking in the background.
func (s *ZombieSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	s.shutdown = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx, s.shutdown)

	s.logger.Info("zombie sweeper started",
		zap.Duration("interval", s.interval), zap.Duration("grace", s.grace))
	return nil
}

// Stop stops accepting new ticks and waits for an in-flight tick to finish.
func (s *ZombieSweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSweeperNotRunning
	}
	s.running = false
	close(s.shutdown)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("zombie sweeper stopped")
	return nil
}

func (s *ZombieSweeper) run(ctx context.Context, shutdown chan struct{}) {
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

// Sweep runs one pass: every zombie user is checked against every channel
// holding an entry for them. Failures on one channel are logged and do not
// abort the sweep of the others.
func (s *ZombieSweeper) Sweep(ctx context.Context, now time.Time) {
	zombies := s.registry.ZombieUsers()
	if len(zombies) == 0 {
		return
	}

	channels := s.registry.Channels()

	for _, userID := range zombies {
		stillInSession := false

		for _, ch := range channels {
			if !ch.Contains(userID) {
				continue
			}

			delta, err := ch.ForceOfflineIfZombie(ctx, userID, s.grace, now)
			if err != nil {
				// The forced transition stands; only the recording failed.
				s.logger.Error("failed to record study session for zombie user",
					zap.String("channel_id", ch.ID().String()),
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
			if delta != nil {
				s.broadcaster.BroadcastToChannel(delta.ChannelID, delta.Event, delta.Entry)
				s.logger.Info("forced zombie user offline",
					zap.String("channel_id", ch.ID().String()),
					zap.String("user_id", userID.String()))
				continue
			}

			if status, ok := ch.UserStatus(userID); ok &&
				(status == types.StatusStudying || status == types.StatusOnBreak) {
				stillInSession = true
			}
		}

		// Within grace somewhere: keep the empty connection set so the next
		// tick re-checks them. Otherwise stop tracking the user.
		if !stillInSession {
			s.registry.ForgetUser(userID)
		}
	}
}
