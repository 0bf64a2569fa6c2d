package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// ChannelPresence is the authoritative state machine for every user ever
// seen in one channel. Entries are created lazily on first join and kept as
// a warm cache when users go offline, so reconnects do not re-fetch
// profiles from the directory.
//
// Locking: the channel mutex guards only the entry map; each entry carries
// its own mutex serializing read-modify-write transitions, so operations on
// different users proceed in parallel while transitions on one user are
// linearized. Directory lookups and session writes never run under either
// lock.
type ChannelPresence struct {
	id        uuid.UUID
	directory interfaces.UserDirectory
	writer    interfaces.SessionWriter
	logger    *zap.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]*userEntry
}

type userEntry struct {
	mu   sync.Mutex
	data types.UserPresenceEntry
}

// NewChannelPresence creates the presence state for one channel.
func NewChannelPresence(id uuid.UUID, directory interfaces.UserDirectory, writer interfaces.SessionWriter, logger *zap.Logger) *ChannelPresence {
	return &ChannelPresence{
		id:        id,
		directory: directory,
		writer:    writer,
		logger:    logger.With(zap.String("channel_id", id.String())),
		entries:   make(map[uuid.UUID]*userEntry),
	}
}

// ID returns the channel id.
func (c *ChannelPresence) ID() uuid.UUID {
	return c.id
}

// IsEmpty reports whether no entries remain.
func (c *ChannelPresence) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) == 0
}

// Contains reports whether the channel has an entry for the user.
func (c *ChannelPresence) Contains(userID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[userID]
	return ok
}

// UserStatus returns the user's current status, if an entry exists.
func (c *ChannelPresence) UserStatus(userID uuid.UUID) (types.Status, bool) {
	e, ok := c.getEntry(userID)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.Status, true
}

func (c *ChannelPresence) getEntry(userID uuid.UUID) (*userEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	return e, ok
}

// getOrCreateEntry returns the user's entry, fetching the profile from the
// directory only on first-ever sight of this user in this channel.
func (c *ChannelPresence) getOrCreateEntry(ctx context.Context, userID uuid.UUID) (*userEntry, error) {
	if e, ok := c.getEntry(userID); ok {
		return e, nil
	}

	profile, err := c.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Lost the race to another connection of the same user: keep the
	// existing entry so cached state survives.
	if e, ok := c.entries[userID]; ok {
		return e, nil
	}

	e := &userEntry{data: types.UserPresenceEntry{
		User:      *profile,
		Status:    types.StatusOnline,
		StartedAt: time.Now(),
	}}
	c.entries[userID] = e
	return e, nil
}

// Join flips an OFFLINE entry back to ONLINE and is otherwise a no-op, so a
// second tab joining an already-online user returns the entry unchanged.
func (c *ChannelPresence) Join(ctx context.Context, userID uuid.UUID) (types.UserPresenceEntry, error) {
	e, err := c.getOrCreateEntry(ctx, userID)
	if err != nil {
		return types.UserPresenceEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data.Status == types.StatusOffline {
		e.data.Status = types.StatusOnline
		e.data.StartedAt = time.Now()
		e.data.TimerDurationMinutes = nil
		e.data.NextBreakDurationMinutes = nil
	}
	return e.data.Clone(), nil
}

// Leave marks an ONLINE user OFFLINE when their last connection closes. A
// user who is STUDYING or ON_BREAK keeps their status: losing a tab must not
// kick a student out mid-session; only the zombie sweeper may force them
// offline later. The entry itself is never removed.
func (c *ChannelPresence) Leave(userID uuid.UUID) (types.UserPresenceEntry, error) {
	e, ok := c.getEntry(userID)
	if !ok {
		return types.UserPresenceEntry{}, interfaces.ErrUserNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data.Status == types.StatusOnline {
		e.data.Status = types.StatusOffline
		e.data.StartedAt = time.Now()
		e.data.TimerDurationMinutes = nil
		e.data.NextBreakDurationMinutes = nil
	}
	return e.data.Clone(), nil
}

// StartStudying transitions the user into STUDYING on the given topic,
// optionally under a pomodoro countdown with a pre-declared auto-break. A
// user already STUDYING gets their entry back unchanged.
func (c *ChannelPresence) StartStudying(ctx context.Context, userID, topicID uuid.UUID, workMinutes, breakMinutes *int) (types.UserPresenceEntry, error) {
	if err := types.ValidateTimerMinutes(workMinutes); err != nil {
		return types.UserPresenceEntry{}, err
	}
	if err := types.ValidateTimerMinutes(breakMinutes); err != nil {
		return types.UserPresenceEntry{}, err
	}

	e, err := c.getOrCreateEntry(ctx, userID)
	if err != nil {
		return types.UserPresenceEntry{}, err
	}

	e.mu.Lock()
	if e.data.Status == types.StatusStudying {
		clone := e.data.Clone()
		e.mu.Unlock()
		return clone, nil
	}
	e.mu.Unlock()

	// Resolve the topic outside the entry lock; the directory may hit the
	// database.
	topic, err := c.directory.GetTopic(ctx, topicID)
	if err != nil {
		return types.UserPresenceEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-check after the lookup: a concurrent start for the same user wins
	// exactly once.
	if e.data.Status == types.StatusStudying {
		return e.data.Clone(), nil
	}

	e.data.Status = types.StatusStudying
	e.data.StartedAt = time.Now()
	e.data.Topic = topic
	e.data.TimerDurationMinutes = copyMinutes(workMinutes)
	e.data.NextBreakDurationMinutes = copyMinutes(breakMinutes)

	return e.data.Clone(), nil
}

// StopStudying ends the current study interval, records it, and moves the
// user to ON_BREAK when an auto-break is pending, otherwise to ONLINE. The
// in-memory transition completes even when recording fails; the failure is
// surfaced as ErrSessionNotSaved so the caller can warn the user.
func (c *ChannelPresence) StopStudying(ctx context.Context, userID uuid.UUID) (types.UserPresenceEntry, error) {
	e, ok := c.getEntry(userID)
	if !ok {
		return types.UserPresenceEntry{}, interfaces.ErrUserNotFound
	}

	e.mu.Lock()
	if e.data.Status != types.StatusStudying {
		e.mu.Unlock()
		return types.UserPresenceEntry{}, ErrNotStudying
	}

	session := c.endStudyLocked(e, time.Now())
	clone := e.data.Clone()
	e.mu.Unlock()

	return clone, c.record(ctx, session)
}

// StartBreak puts the user ON_BREAK for the given number of minutes. A user
// currently STUDYING has their interval stopped and recorded first, and the
// manual break discards any pending auto-break length.
func (c *ChannelPresence) StartBreak(ctx context.Context, userID uuid.UUID, durationMinutes int) (types.UserPresenceEntry, error) {
	if err := types.ValidateTimerMinutes(&durationMinutes); err != nil {
		return types.UserPresenceEntry{}, err
	}

	e, err := c.getOrCreateEntry(ctx, userID)
	if err != nil {
		return types.UserPresenceEntry{}, err
	}

	now := time.Now()

	e.mu.Lock()
	var session *types.StudySession
	if e.data.Status == types.StatusStudying {
		s := c.endStudyLocked(e, now)
		session = &s
	}

	e.data.Status = types.StatusOnBreak
	e.data.StartedAt = now
	e.data.Topic = nil
	e.data.TimerDurationMinutes = copyMinutes(&durationMinutes)
	e.data.NextBreakDurationMinutes = nil
	clone := e.data.Clone()
	e.mu.Unlock()

	if session != nil {
		return clone, c.record(ctx, *session)
	}
	return clone, nil
}

// StopBreak ends a break early, clearing the countdown.
func (c *ChannelPresence) StopBreak(userID uuid.UUID) (types.UserPresenceEntry, error) {
	e, ok := c.getEntry(userID)
	if !ok {
		return types.UserPresenceEntry{}, interfaces.ErrUserNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data.Status != types.StatusOnBreak {
		return types.UserPresenceEntry{}, ErrNotOnBreak
	}

	e.data.Status = types.StatusOnline
	e.data.StartedAt = time.Now()
	e.data.TimerDurationMinutes = nil
	e.data.NextBreakDurationMinutes = nil

	return e.data.Clone(), nil
}

// CheckExpiredTimers drives the automatic transition for every entry whose
// countdown elapsed by now: STUDYING stops (and auto-starts the pending
// break if one was declared), ON_BREAK ends. One delta per change is
// returned for broadcast. A stray timer on an ONLINE or OFFLINE entry is
// cleared without an event.
func (c *ChannelPresence) CheckExpiredTimers(ctx context.Context, now time.Time) []types.PresenceDelta {
	c.mu.RLock()
	candidates := make([]*userEntry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	c.mu.RUnlock()

	var deltas []types.PresenceDelta

	for _, e := range candidates {
		e.mu.Lock()

		expiry, ok := e.data.TimerExpiresAt()
		if !ok || expiry.After(now) {
			e.mu.Unlock()
			continue
		}

		switch e.data.Status {
		case types.StatusStudying:
			session := c.endStudyLocked(e, now)
			event := types.EventUserStoppedStudying
			if e.data.Status == types.StatusOnBreak {
				event = types.EventUserStartedBreak
			}
			clone := e.data.Clone()
			e.mu.Unlock()

			if err := c.record(ctx, session); err != nil {
				c.logger.Error("failed to record study session on timer expiry",
					zap.String("user_id", session.UserID.String()), zap.Error(err))
			}
			deltas = append(deltas, types.PresenceDelta{ChannelID: c.id, Event: event, Entry: clone})

		case types.StatusOnBreak:
			e.data.Status = types.StatusOnline
			e.data.StartedAt = now
			e.data.TimerDurationMinutes = nil
			e.data.NextBreakDurationMinutes = nil
			clone := e.data.Clone()
			e.mu.Unlock()

			deltas = append(deltas, types.PresenceDelta{ChannelID: c.id, Event: types.EventUserStoppedBreak, Entry: clone})

		default:
			// Timers are only meaningful under STUDYING or ON_BREAK.
			e.data.TimerDurationMinutes = nil
			e.data.NextBreakDurationMinutes = nil
			e.mu.Unlock()
		}
	}

	return deltas
}

// ForceOfflineIfZombie forces a user with zero open connections offline. An
// ONLINE user goes down immediately; a STUDYING or ON_BREAK user is left
// alone until the grace period from their status start elapses, so a
// dropped tab does not end a live session. Any in-progress study interval is
// recorded before the state is cleared. Returns nil when the user stays put.
func (c *ChannelPresence) ForceOfflineIfZombie(ctx context.Context, userID uuid.UUID, grace time.Duration, now time.Time) (*types.PresenceDelta, error) {
	e, ok := c.getEntry(userID)
	if !ok {
		return nil, nil
	}

	e.mu.Lock()

	var session *types.StudySession
	switch e.data.Status {
	case types.StatusOffline:
		e.mu.Unlock()
		return nil, nil

	case types.StatusOnline:
		// No grace for idle online.

	default:
		if now.Sub(e.data.StartedAt) <= grace {
			e.mu.Unlock()
			return nil, nil
		}
		if e.data.Status == types.StatusStudying {
			session = &types.StudySession{
				ID:        uuid.New(),
				UserID:    e.data.User.ID,
				TopicID:   e.data.Topic.ID,
				StartedAt: e.data.StartedAt,
				Duration:  now.Sub(e.data.StartedAt),
			}
		}
	}

	e.data.Status = types.StatusOffline
	e.data.Topic = nil
	e.data.StartedAt = now
	e.data.TimerDurationMinutes = nil
	e.data.NextBreakDurationMinutes = nil
	clone := e.data.Clone()
	e.mu.Unlock()

	delta := &types.PresenceDelta{ChannelID: c.id, Event: types.EventUserLeftChannel, Entry: clone}

	if session != nil {
		if err := c.record(ctx, *session); err != nil {
			return delta, err
		}
	}
	return delta, nil
}

// Snapshot returns a copy of every entry for full-list requests.
func (c *ChannelPresence) Snapshot() []types.UserPresenceEntry {
	c.mu.RLock()
	entries := make([]*userEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	snapshot := make([]types.UserPresenceEntry, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snapshot = append(snapshot, e.data.Clone())
		e.mu.Unlock()
	}
	return snapshot
}

// endStudyLocked closes the current study interval and applies the
// stop-studying transition: ON_BREAK when an auto-break is pending, ONLINE
// otherwise. Caller holds the entry lock and is responsible for recording
// the returned interval after releasing it.
func (c *ChannelPresence) endStudyLocked(e *userEntry, now time.Time) types.StudySession {
	session := types.StudySession{
		ID:        uuid.New(),
		UserID:    e.data.User.ID,
		TopicID:   e.data.Topic.ID,
		StartedAt: e.data.StartedAt,
		Duration:  now.Sub(e.data.StartedAt),
	}

	if e.data.NextBreakDurationMinutes != nil {
		e.data.Status = types.StatusOnBreak
		e.data.TimerDurationMinutes = e.data.NextBreakDurationMinutes
		e.data.NextBreakDurationMinutes = nil
	} else {
		e.data.Status = types.StatusOnline
		e.data.TimerDurationMinutes = nil
	}
	e.data.StartedAt = now
	e.data.Topic = nil

	return session
}

// record dispatches the completed interval to the session writer. Called
// with no locks held so a slow or failing write never stalls transitions
// for other users.
func (c *ChannelPresence) record(ctx context.Context, session types.StudySession) error {
	if err := c.writer.RecordSession(ctx, &session); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotSaved, err)
	}
	return nil
}

func copyMinutes(minutes *int) *int {
	if minutes == nil {
		return nil
	}
	m := *minutes
	return &m
}
