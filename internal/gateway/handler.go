package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studyhub/internal/presence"
	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Origin policy is enforced by the reverse proxy in front of the
	// gateway.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Options carries the transport tuning and the token verification secret.
type Options struct {
	JWTSecret    string
	SendBuffer   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	HistoryLimit int
}

// Handler is the realtime endpoint: it authenticates the websocket
// handshake, maps client commands onto presence registry operations and
// pushes the resulting events to channel subscribers.
type Handler struct {
	registry    *presence.Registry
	subscribers *Subscribers
	directory   interfaces.UserDirectory
	chat        interfaces.ChatStore
	opts        Options
	logger      *zap.Logger
}

func NewHandler(registry *presence.Registry, subscribers *Subscribers, directory interfaces.UserDirectory, chat interfaces.ChatStore, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		registry:    registry,
		subscribers: subscribers,
		directory:   directory,
		chat:        chat,
		opts:        opts,
		logger:      logger,
	}
}

// HandleWebSocket upgrades an authenticated request and serves its command
// loop until disconnect.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := verifyToken(h.opts.JWTSecret, extractToken(r))
	if err != nil {
		http.Error(w, "missing or invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(wsConn, userID, h.opts.SendBuffer, h.opts.WriteTimeout, h.opts.PingInterval)
	h.logger.Info("client connected",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", userID.String()))

	go h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Connection) {
	defer h.disconnect(conn)

	conn.conn.SetReadLimit(types.MaxContentBytes + 1024)
	_ = conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		var frame CommandFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, ErrInvalidJSON)
			continue
		}

		if err := h.dispatch(context.Background(), conn, frame); err != nil {
			h.sendError(conn, err)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, frame CommandFrame) error {
	switch frame.Type {
	case CommandJoinChannel:
		return h.handleJoin(ctx, conn, frame)
	case CommandSendMessage:
		return h.handleSendMessage(ctx, conn, frame)
	case CommandStartStudying:
		return h.handleStartStudying(ctx, conn, frame)
	case CommandStopStudying:
		return h.handleStopStudying(ctx, conn)
	case CommandStartBreak:
		return h.handleStartBreak(ctx, conn, frame)
	case CommandStopBreak:
		return h.handleStopBreak(conn)
	case CommandGetPresenceList:
		return h.handleGetPresenceList(conn)
	default:
		return ErrUnknownCommand
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *Connection, frame CommandFrame) error {
	if frame.ChannelID == nil {
		return ErrMissingField
	}
	if _, err := h.registry.ResolveChannel(conn.ID()); err == nil {
		return ErrAlreadyInChannel
	}

	entry, err := h.registry.AddConnection(ctx, *frame.ChannelID, conn.ID(), conn.UserID())
	if err != nil {
		return err
	}

	h.subscribers.Subscribe(*frame.ChannelID, conn)
	h.subscribers.BroadcastToChannel(*frame.ChannelID, types.EventUserJoinedChannel, entry)

	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return err
	}
	if err := conn.WriteEvent(types.EventReceivePresenceList, ch.Snapshot()); err != nil {
		h.logger.Debug("failed to send presence list", zap.Error(err))
	}

	h.replayHistory(ctx, conn, *frame.ChannelID)
	return nil
}

// replayHistory sends the latest page of chat, oldest first so the client
// appends in order. History failures never fail the join.
func (h *Handler) replayHistory(ctx context.Context, conn *Connection, channelID uuid.UUID) {
	messages, err := h.chat.ListMessages(ctx, channelID, time.Time{}, h.opts.HistoryLimit)
	if err != nil {
		h.logger.Warn("failed to load chat history",
			zap.String("channel_id", channelID.String()), zap.Error(err))
		return
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if err := conn.WriteEvent(types.EventReceiveMessage, messages[i]); err != nil {
			return
		}
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *Connection, frame CommandFrame) error {
	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return ErrNotInChannel
	}
	if err := types.ValidateContent(frame.Content); err != nil {
		return err
	}

	profile, err := h.directory.GetUser(ctx, conn.UserID())
	if err != nil {
		return err
	}

	message := &types.ChatMessage{
		ID:        uuid.New(),
		ChannelID: ch.ID(),
		User:      *profile,
		Content:   frame.Content,
		Type:      types.ChatMessageUser,
		Timestamp: time.Now(),
	}
	if err := h.chat.CreateMessage(ctx, message); err != nil {
		return err
	}

	h.subscribers.BroadcastToChannel(ch.ID(), types.EventReceiveMessage, message)
	return nil
}

func (h *Handler) handleStartStudying(ctx context.Context, conn *Connection, frame CommandFrame) error {
	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return ErrNotInChannel
	}
	if frame.TopicID == nil {
		return ErrMissingField
	}

	entry, err := ch.StartStudying(ctx, conn.UserID(), *frame.TopicID, frame.WorkMinutes, frame.BreakMinutes)
	if err != nil {
		return err
	}

	h.subscribers.BroadcastToChannel(ch.ID(), types.EventUserStartedStudying, entry)
	return nil
}

func (h *Handler) handleStopStudying(ctx context.Context, conn *Connection) error {
	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return ErrNotInChannel
	}

	entry, err := ch.StopStudying(ctx, conn.UserID())
	if err != nil && !errors.Is(err, presence.ErrSessionNotSaved) {
		return err
	}

	// The transition completed even if the interval write failed; everyone
	// sees the user stop, only the caller learns their session may be lost.
	h.subscribers.BroadcastToChannel(ch.ID(), types.EventUserStoppedStudying, entry)
	return err
}

func (h *Handler) handleStartBreak(ctx context.Context, conn *Connection, frame CommandFrame) error {
	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return ErrNotInChannel
	}
	if frame.DurationMinutes == nil {
		return ErrMissingField
	}

	entry, err := ch.StartBreak(ctx, conn.UserID(), *frame.DurationMinutes)
	if err != nil && !errors.Is(err, presence.ErrSessionNotSaved) {
		return err
	}

	h.subscribers.BroadcastToChannel(ch.ID(), types.EventUserStartedBreak, entry)
	return err
}

func (h *Handler) handleStopBreak(conn *Connection) error {
	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return ErrNotInChannel
	}

	entry, err := ch.StopBreak(conn.UserID())
	if err != nil {
		return err
	}

	h.subscribers.BroadcastToChannel(ch.ID(), types.EventUserStoppedBreak, entry)
	return nil
}

func (h *Handler) handleGetPresenceList(conn *Connection) error {
	ch, err := h.registry.ResolveChannel(conn.ID())
	if err != nil {
		return ErrNotInChannel
	}
	return conn.WriteEvent(types.EventReceivePresenceList, ch.Snapshot())
}

// disconnect runs when the read loop exits for any reason: clean leave,
// network drop or protocol error.
func (h *Handler) disconnect(conn *Connection) {
	var channelID uuid.UUID
	if ch, err := h.registry.ResolveChannel(conn.ID()); err == nil {
		channelID = ch.ID()
	}

	delta, err := h.registry.RemoveConnection(context.Background(), conn.ID())
	if err != nil && !errors.Is(err, presence.ErrConnectionNotFound) {
		h.logger.Warn("failed to remove connection",
			zap.String("connection_id", conn.ID()), zap.Error(err))
	}

	if channelID != uuid.Nil {
		h.subscribers.Unsubscribe(channelID, conn.ID())
	}
	if delta != nil {
		h.subscribers.BroadcastToChannel(delta.ChannelID, delta.Event, delta.Entry)
	}

	_ = conn.Close()
	h.logger.Info("client disconnected",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", conn.UserID().String()))
}

// sendError reports a command failure to the originating caller only.
func (h *Handler) sendError(conn *Connection, err error) {
	payload := ErrorPayload{Code: errorCode(err), Message: err.Error()}
	if writeErr := conn.WriteEvent(EventError, payload); writeErr != nil {
		h.logger.Debug("failed to send error frame",
			zap.String("connection_id", conn.ID()), zap.Error(writeErr))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound),
		errors.Is(err, interfaces.ErrTopicNotFound),
		errors.Is(err, interfaces.ErrChannelNotFound),
		errors.Is(err, presence.ErrConnectionNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, presence.ErrNotStudying),
		errors.Is(err, presence.ErrNotOnBreak),
		errors.Is(err, ErrNotInChannel),
		errors.Is(err, ErrAlreadyInChannel):
		return ErrorCodeInvalidState
	case errors.Is(err, types.ErrEmptyContent),
		errors.Is(err, types.ErrContentTooLarge),
		errors.Is(err, types.ErrInvalidDuration),
		errors.Is(err, ErrMissingField),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrInvalidJSON):
		return ErrorCodeInvalidArgument
	case errors.Is(err, presence.ErrSessionNotSaved):
		return ErrorCodeSessionNotSaved
	default:
		return ErrorCodeInternal
	}
}
