package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// mockDirectory serves canned profiles and topics and counts lookups so
// tests can assert the lazy-cache behavior.
type mockDirectory struct {
	mu          sync.Mutex
	users       map[uuid.UUID]types.UserProfile
	topics      map[uuid.UUID]types.TopicInfo
	userFetches int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		users:  make(map[uuid.UUID]types.UserProfile),
		topics: make(map[uuid.UUID]types.TopicInfo),
	}
}

func (d *mockDirectory) addUser(name string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.users[id] = types.UserProfile{ID: id, DisplayName: name, DateJoined: time.Now()}
	return id
}

func (d *mockDirectory) addTopic(title string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.topics[id] = types.TopicInfo{ID: id, Title: title}
	return id
}

func (d *mockDirectory) GetUser(_ context.Context, userID uuid.UUID) (*types.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userFetches++
	profile, ok := d.users[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return &profile, nil
}

func (d *mockDirectory) GetTopic(_ context.Context, topicID uuid.UUID) (*types.TopicInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	topic, ok := d.topics[topicID]
	if !ok {
		return nil, interfaces.ErrTopicNotFound
	}
	return &topic, nil
}

func (d *mockDirectory) fetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userFetches
}

// mockWriter records study sessions in memory, with a failure toggle.
type mockWriter struct {
	mu         sync.Mutex
	sessions   []types.StudySession
	shouldFail bool
}

func (w *mockWriter) RecordSession(_ context.Context, session *types.StudySession) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shouldFail {
		return errors.New("writer unavailable")
	}
	w.sessions = append(w.sessions, *session)
	return nil
}

func (w *mockWriter) recorded() []types.StudySession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.StudySession(nil), w.sessions...)
}

func (w *mockWriter) fail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shouldFail = fail
}

// mockBroadcaster collects pushed events for the sweeper tests.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []types.PresenceDelta
}

func (b *mockBroadcaster) BroadcastToChannel(channelID uuid.UUID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, _ := payload.(types.UserPresenceEntry)
	b.events = append(b.events, types.PresenceDelta{ChannelID: channelID, Event: event, Entry: entry})
}

func (b *mockBroadcaster) pushed() []types.PresenceDelta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.PresenceDelta(nil), b.events...)
}

func intPtr(v int) *int { return &v }
