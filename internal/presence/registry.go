package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// ConnectionRecord binds one live transport connection to the channel and
// user it belongs to.
type ConnectionRecord struct {
	ConnectionID string
	ChannelID    uuid.UUID
	UserID       uuid.UUID
}

// Registry is the single entry point for the transport layer and the
// background sweepers. It owns the set of ChannelPresence instances
// (created lazily, dropped when a channel empties) and the connection
// multiplexing index: one user holding several tabs maps to one channel
// membership, and the userID → connection-set index is the sole source of
// truth for "is this user still connected from anywhere".
type Registry struct {
	directory interfaces.UserDirectory
	writer    interfaces.SessionWriter
	logger    *zap.Logger

	mu              sync.RWMutex
	channels        map[uuid.UUID]*ChannelPresence
	connections     map[string]ConnectionRecord
	userConnections map[uuid.UUID]map[string]struct{}
}

// NewRegistry creates an empty presence registry. Tests construct isolated
// instances; the process wires exactly one.
func NewRegistry(directory interfaces.UserDirectory, writer interfaces.SessionWriter, logger *zap.Logger) *Registry {
	return &Registry{
		directory:       directory,
		writer:          writer,
		logger:          logger,
		channels:        make(map[uuid.UUID]*ChannelPresence),
		connections:     make(map[string]ConnectionRecord),
		userConnections: make(map[uuid.UUID]map[string]struct{}),
	}
}

func (r *Registry) getOrCreateChannel(channelID uuid.UUID) *ChannelPresence {
	r.mu.RLock()
	ch, ok := r.channels[channelID]
	r.mu.RUnlock()
	if ok {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[channelID]; ok {
		return ch
	}
	ch = NewChannelPresence(channelID, r.directory, r.writer, r.logger)
	r.channels[channelID] = ch
	return ch
}

// AddConnection records the connection, indexes it under its user and joins
// the user to the channel. Safe to call for a user who already holds other
// open connections.
func (r *Registry) AddConnection(ctx context.Context, channelID uuid.UUID, connectionID string, userID uuid.UUID) (types.UserPresenceEntry, error) {
	ch := r.getOrCreateChannel(channelID)

	entry, err := ch.Join(ctx, userID)
	if err != nil {
		return types.UserPresenceEntry{}, err
	}

	r.mu.Lock()
	r.connections[connectionID] = ConnectionRecord{
		ConnectionID: connectionID,
		ChannelID:    channelID,
		UserID:       userID,
	}
	set, ok := r.userConnections[userID]
	if !ok {
		set = make(map[string]struct{})
		r.userConnections[userID] = set
	}
	set[connectionID] = struct{}{}
	r.mu.Unlock()

	return entry, nil
}

// RemoveConnection drops the connection record and unindexes it. Only when
// the user's connection set becomes empty does it forward to Leave. This is
// the multi-tab guard: a user with one tab still open must not be marked
// offline because a second tab closed. The emptied set is kept so the
// zombie sweeper can find users whose leave never fired or who were kept in
// session through the grace window.
func (r *Registry) RemoveConnection(ctx context.Context, connectionID string) (*types.PresenceDelta, error) {
	r.mu.Lock()
	record, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrConnectionNotFound
	}
	delete(r.connections, connectionID)

	lastConnection := false
	if set, ok := r.userConnections[record.UserID]; ok {
		delete(set, connectionID)
		lastConnection = len(set) == 0
	}

	ch := r.channels[record.ChannelID]
	r.mu.Unlock()

	if !lastConnection || ch == nil {
		return nil, nil
	}

	entry, err := ch.Leave(record.UserID)
	if err != nil {
		return nil, err
	}

	r.collectChannelIfEmpty(ch)

	return &types.PresenceDelta{
		ChannelID: record.ChannelID,
		Event:     types.EventUserLeftChannel,
		Entry:     entry,
	}, nil
}

// ResolveChannel returns the channel a connection is bound to, for command
// dispatch on that connection's behalf.
func (r *Registry) ResolveChannel(connectionID string) (*ChannelPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.connections[connectionID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	ch, ok := r.channels[record.ChannelID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return ch, nil
}

// Channels returns the live channel set for the sweepers.
func (r *Registry) Channels() []*ChannelPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]*ChannelPresence, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	return channels
}

// ZombieUsers returns users present in the multiplexing index with an empty
// connection set: they disconnected but were not (or must not yet be)
// transitioned offline.
func (r *Registry) ZombieUsers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []uuid.UUID
	for userID, set := range r.userConnections {
		if len(set) == 0 {
			users = append(users, userID)
		}
	}
	return users
}

// ForgetUser drops a user's empty connection-set entry once the zombie
// sweeper has forced them offline everywhere, so the index does not grow
// with every user ever seen.
func (r *Registry) ForgetUser(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.userConnections[userID]; ok && len(set) == 0 {
		delete(r.userConnections, userID)
	}
}

// collectChannelIfEmpty drops a channel whose entry map emptied. Entries
// survive leave as a warm cache, so this is a soft cap on memory for churny
// channels rather than aggressive cleanup.
func (r *Registry) collectChannelIfEmpty(ch *ChannelPresence) {
	if !ch.IsEmpty() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.channels[ch.ID()]; ok && current == ch && ch.IsEmpty() {
		delete(r.channels, ch.ID())
		r.logger.Debug("collected empty channel", zap.String("channel_id", ch.ID().String()))
	}
}

// Stats reports registry sizes for the health endpoint and logs.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"channels":    len(r.channels),
		"connections": len(r.connections),
		"users":       len(r.userConnections),
	}
}
