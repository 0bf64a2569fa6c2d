package gateway

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscribers tracks which connections receive a channel's events. It
// implements interfaces.Broadcaster for the presence sweepers.
type Subscribers struct {
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[uuid.UUID]map[string]*Connection
}

func NewSubscribers(logger *zap.Logger) *Subscribers {
	return &Subscribers{
		logger:   logger,
		channels: make(map[uuid.UUID]map[string]*Connection),
	}
}

// Subscribe adds a connection to a channel's recipient set.
func (s *Subscribers) Subscribe(channelID uuid.UUID, conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.channels[channelID]
	if !ok {
		set = make(map[string]*Connection)
		s.channels[channelID] = set
	}
	set[conn.ID()] = conn
}

// Unsubscribe removes a connection, dropping the channel's set when it
// empties.
func (s *Subscribers) Unsubscribe(channelID uuid.UUID, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.channels[channelID]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(s.channels, channelID)
	}
}

// BroadcastToChannel pushes one event to every subscriber of the channel.
// Delivery is best-effort: a slow or dead connection is logged and skipped,
// never allowed to stall the rest.
func (s *Subscribers) BroadcastToChannel(channelID uuid.UUID, event string, payload any) {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.channels[channelID]))
	for _, conn := range s.channels[channelID] {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteEvent(event, payload); err != nil {
			s.logger.Debug("dropped event for subscriber",
				zap.String("channel_id", channelID.String()),
				zap.String("connection_id", conn.ID()),
				zap.String("event", event),
				zap.Error(err))
		}
	}
}
