package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studyhub/internal/presence"
	"studyhub/pkg/types"
)

type testServer struct {
	store    *mockStore
	registry *presence.Registry
	server   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := newMockStore()
	logger := zap.NewNop()
	registry := presence.NewRegistry(store, store, logger)
	subscribers := NewSubscribers(logger)
	handler := NewHandler(registry, subscribers, store, store, Options{
		JWTSecret:    testSecret,
		SendBuffer:   64,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		PingInterval: 10 * time.Second,
		HistoryLimit: 50,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{store: store, registry: registry, server: server}
}

func (ts *testServer) wsURL(token string) string {
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func (ts *testServer) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(userToken(t, userID)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, frame CommandFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

type receivedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) receivedFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame receivedFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readEntryEvent(t *testing.T, conn *websocket.Conn, wantEvent string) types.UserPresenceEntry {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, wantEvent, frame.Event)
	var entry types.UserPresenceEntry
	require.NoError(t, json.Unmarshal(frame.Data, &entry))
	return entry
}

func joinChannel(t *testing.T, conn *websocket.Conn, channelID uuid.UUID) {
	t.Helper()
	sendCommand(t, conn, CommandFrame{Type: CommandJoinChannel, ChannelID: &channelID})
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(ts.wsURL("garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinDeliversPresenceList(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.store.addUser("alice")
	channelID := uuid.New()

	conn := ts.dial(t, userID)
	joinChannel(t, conn, channelID)

	entry := readEntryEvent(t, conn, types.EventUserJoinedChannel)
	assert.Equal(t, userID, entry.User.ID)
	assert.Equal(t, types.StatusOnline, entry.Status)

	frame := readFrame(t, conn)
	require.Equal(t, types.EventReceivePresenceList, frame.Event)
	var list []types.UserPresenceEntry
	require.NoError(t, json.Unmarshal(frame.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, userID, list[0].User.ID)
}

func TestJoinErrors(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.store.addUser("alice")
	channelID := uuid.New()

	conn := ts.dial(t, userID)

	// Missing channel id.
	sendCommand(t, conn, CommandFrame{Type: CommandJoinChannel})
	frame := readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidArgument, payload.Code)

	// A second join on the same connection is rejected.
	joinChannel(t, conn, channelID)
	readEntryEvent(t, conn, types.EventUserJoinedChannel)
	readFrame(t, conn) // presence list

	joinChannel(t, conn, uuid.New())
	frame = readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidState, payload.Code)
}

func TestCommandsRequireJoin(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.store.addUser("alice")

	conn := ts.dial(t, userID)
	sendCommand(t, conn, CommandFrame{Type: CommandStopStudying})

	frame := readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidState, payload.Code)
	assert.Equal(t, ErrNotInChannel.Error(), payload.Message)
}

func TestStudyLifecycleOverWire(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.store.addUser("alice")
	topicID := ts.store.addTopic("algebra")
	channelID := uuid.New()

	conn := ts.dial(t, userID)
	joinChannel(t, conn, channelID)
	readEntryEvent(t, conn, types.EventUserJoinedChannel)
	readFrame(t, conn) // presence list

	work := 25
	brk := 5
	sendCommand(t, conn, CommandFrame{Type: CommandStartStudying, TopicID: &topicID, WorkMinutes: &work, BreakMinutes: &brk})
	entry := readEntryEvent(t, conn, types.EventUserStartedStudying)
	assert.Equal(t, types.StatusStudying, entry.Status)
	require.NotNil(t, entry.Topic)
	assert.Equal(t, "algebra", entry.Topic.Title)
	require.NotNil(t, entry.TimerDurationMinutes)
	assert.Equal(t, 25, *entry.TimerDurationMinutes)

	// Stopping flows into the declared auto-break.
	sendCommand(t, conn, CommandFrame{Type: CommandStopStudying})
	entry = readEntryEvent(t, conn, types.EventUserStoppedStudying)
	assert.Equal(t, types.StatusOnBreak, entry.Status)

	sendCommand(t, conn, CommandFrame{Type: CommandStopBreak})
	entry = readEntryEvent(t, conn, types.EventUserStoppedBreak)
	assert.Equal(t, types.StatusOnline, entry.Status)

	sessions := ts.store.recordedSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, userID, sessions[0].UserID)
	assert.Equal(t, topicID, sessions[0].TopicID)
}

func TestStopStudyingWhileIdleReturnsError(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.store.addUser("alice")
	channelID := uuid.New()

	conn := ts.dial(t, userID)
	joinChannel(t, conn, channelID)
	readEntryEvent(t, conn, types.EventUserJoinedChannel)
	readFrame(t, conn)

	sendCommand(t, conn, CommandFrame{Type: CommandStopStudying})
	frame := readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidState, payload.Code)
}

func TestChatBroadcastAndReplay(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.store.addUser("alice")
	bob := ts.store.addUser("bob")
	channelID := uuid.New()

	aliceConn := ts.dial(t, alice)
	joinChannel(t, aliceConn, channelID)
	readEntryEvent(t, aliceConn, types.EventUserJoinedChannel)
	readFrame(t, aliceConn)

	sendCommand(t, aliceConn, CommandFrame{Type: CommandSendMessage, Content: "hello"})
	frame := readFrame(t, aliceConn)
	require.Equal(t, types.EventReceiveMessage, frame.Event)
	var message types.ChatMessage
	require.NoError(t, json.Unmarshal(frame.Data, &message))
	assert.Equal(t, "hello", message.Content)
	assert.Equal(t, "alice", message.User.DisplayName)

	// A later joiner gets the join flow, then the history replay.
	bobConn := ts.dial(t, bob)
	joinChannel(t, bobConn, channelID)
	readEntryEvent(t, bobConn, types.EventUserJoinedChannel)
	readFrame(t, bobConn) // presence list
	frame = readFrame(t, bobConn)
	require.Equal(t, types.EventReceiveMessage, frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &message))
	assert.Equal(t, "hello", message.Content)

	// Alice sees bob arrive.
	entry := readEntryEvent(t, aliceConn, types.EventUserJoinedChannel)
	assert.Equal(t, bob, entry.User.ID)

	// Empty content is rejected to the caller only.
	sendCommand(t, aliceConn, CommandFrame{Type: CommandSendMessage, Content: ""})
	frame = readFrame(t, aliceConn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidArgument, payload.Code)
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.store.addUser("alice")
	bob := ts.store.addUser("bob")
	channelID := uuid.New()

	aliceConn := ts.dial(t, alice)
	joinChannel(t, aliceConn, channelID)
	readEntryEvent(t, aliceConn, types.EventUserJoinedChannel)
	readFrame(t, aliceConn)

	bobConn := ts.dial(t, bob)
	joinChannel(t, bobConn, channelID)
	readEntryEvent(t, aliceConn, types.EventUserJoinedChannel)

	require.NoError(t, bobConn.Close())

	entry := readEntryEvent(t, aliceConn, types.EventUserLeftChannel)
	assert.Equal(t, bob, entry.User.ID)
	assert.Equal(t, types.StatusOffline, entry.Status)
}

func TestSecondTabDisconnectIsSilent(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.store.addUser("alice")
	bob := ts.store.addUser("bob")
	channelID := uuid.New()

	observer := ts.dial(t, bob)
	joinChannel(t, observer, channelID)
	readEntryEvent(t, observer, types.EventUserJoinedChannel)
	readFrame(t, observer)

	tab1 := ts.dial(t, alice)
	joinChannel(t, tab1, channelID)
	readEntryEvent(t, observer, types.EventUserJoinedChannel)

	tab2 := ts.dial(t, alice)
	joinChannel(t, tab2, channelID)
	readEntryEvent(t, observer, types.EventUserJoinedChannel)

	// Closing one of two tabs keeps the user online.
	require.NoError(t, tab2.Close())
	require.Eventually(t, func() bool {
		return ts.registry.Stats()["connections"] == 2
	}, 3*time.Second, 10*time.Millisecond)

	channels := ts.registry.Channels()
	require.Len(t, channels, 1)
	status, ok := channels[0].UserStatus(alice)
	require.True(t, ok)
	assert.Equal(t, types.StatusOnline, status)

	// Closing the last tab fires the one leave event.
	require.NoError(t, tab1.Close())
	entry := readEntryEvent(t, observer, types.EventUserLeftChannel)
	assert.Equal(t, alice, entry.User.ID)
}

func TestUnknownCommandAndMalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.store.addUser("alice")

	conn := ts.dial(t, userID)

	sendCommand(t, conn, CommandFrame{Type: "dance"})
	frame := readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidArgument, payload.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame = readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, ErrorCodeInvalidArgument, payload.Code)
}
