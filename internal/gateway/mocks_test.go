package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// mockStore backs the gateway tests with an in-memory directory, session
// writer and chat store.
type mockStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]types.UserProfile
	topics   map[uuid.UUID]types.TopicInfo
	sessions []types.StudySession
	messages []types.ChatMessage
}

func newMockStore() *mockStore {
	return &mockStore{
		users:  make(map[uuid.UUID]types.UserProfile),
		topics: make(map[uuid.UUID]types.TopicInfo),
	}
}

func (s *mockStore) addUser(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.users[id] = types.UserProfile{ID: id, DisplayName: name, DateJoined: time.Now()}
	return id
}

func (s *mockStore) addTopic(title string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.topics[id] = types.TopicInfo{ID: id, Title: title}
	return id
}

func (s *mockStore) GetUser(_ context.Context, userID uuid.UUID) (*types.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.users[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return &profile, nil
}

func (s *mockStore) GetTopic(_ context.Context, topicID uuid.UUID) (*types.TopicInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topics[topicID]
	if !ok {
		return nil, interfaces.ErrTopicNotFound
	}
	return &topic, nil
}

func (s *mockStore) RecordSession(_ context.Context, session *types.StudySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, *session)
	return nil
}

func (s *mockStore) CreateMessage(_ context.Context, message *types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *message)
	return nil
}

func (s *mockStore) ListMessages(_ context.Context, channelID uuid.UUID, before time.Time, limit int) ([]*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*types.ChatMessage
	for i := range s.messages {
		msg := s.messages[i]
		if msg.ChannelID != channelID {
			continue
		}
		if !before.IsZero() && msg.Timestamp.After(before) {
			continue
		}
		matched = append(matched, &msg)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *mockStore) recordedSessions() []types.StudySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StudySession(nil), s.sessions...)
}
