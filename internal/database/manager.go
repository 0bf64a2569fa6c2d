package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	dbconfig "studyhub/pkg/database"
	"studyhub/pkg/interfaces"
	"studyhub/pkg/types"
)

// Manager is the sqlite-backed store. It serves the user/topic directory,
// records completed study intervals and persists chat history. All writes
// funnel through a single goroutine; sqlite in WAL mode handles concurrent
// reads on the pool.
type Manager struct {
	db           *sql.DB
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the
// writer goroutine.
func NewManager(cfg *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	db, err := dbconfig.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying once", zap.Error(err))
				time.Sleep(time.Second)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// GetUser resolves a user id to its public profile.
func (m *Manager) GetUser(ctx context.Context, userID uuid.UUID) (*types.UserProfile, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, display_name, date_joined FROM users WHERE id = ?",
		userID.String(),
	)

	var profile types.UserProfile
	var id string
	if err := row.Scan(&id, &profile.DisplayName, &profile.DateJoined); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
	}
	profile.ID = parsed

	return &profile, nil
}

// GetTopic resolves a topic id to its public title.
func (m *Manager) GetTopic(ctx context.Context, topicID uuid.UUID) (*types.TopicInfo, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, title FROM topics WHERE id = ?",
		topicID.String(),
	)

	var topic types.TopicInfo
	var id string
	if err := row.Scan(&id, &topic.Title); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrTopicNotFound
		}
		return nil, fmt.Errorf("failed to query topic: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt topic id %q: %w", id, err)
	}
	topic.ID = parsed

	return &topic, nil
}

// CreateUser inserts a user profile. The account/REST layer owns user
// creation; the store exposes it for that layer and for seeding.
func (m *Manager) CreateUser(ctx context.Context, profile *types.UserProfile) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO users (id, display_name, date_joined) VALUES (?, ?, ?)",
			profile.ID.String(), profile.DisplayName, profile.DateJoined,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// CreateTopic inserts a study topic.
func (m *Manager) CreateTopic(ctx context.Context, topic *types.TopicInfo) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO topics (id, title) VALUES (?, ?)",
			topic.ID.String(), topic.Title,
		)
		if err != nil {
			return fmt.Errorf("failed to insert topic: %w", err)
		}
		return nil
	})
}

// RecordSession durably records one completed study interval. Foreign keys
// reject unknown user or topic ids.
func (m *Manager) RecordSession(ctx context.Context, session *types.StudySession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO study_sessions (id, user_id, topic_id, started_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?)`,
			session.ID.String(),
			session.UserID.String(),
			session.TopicID.String(),
			session.StartedAt,
			session.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert study session: %w", err)
		}
		return nil
	})
}

// CreateMessage persists one chat message.
func (m *Manager) CreateMessage(ctx context.Context, message *types.ChatMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.Type == "" {
		message.Type = types.ChatMessageUser
	}

	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO chat_messages (id, channel_id, user_id, content, message_type, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			message.ID.String(),
			message.ChannelID.String(),
			message.User.ID.String(),
			message.Content,
			string(message.Type),
			message.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
}

// ListMessages returns up to limit messages for a channel with timestamps at
// or before the cursor, newest first. A zero cursor starts from the latest.
func (m *Manager) ListMessages(ctx context.Context, channelID uuid.UUID, before time.Time, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 || limit > MaxMessagePageSize {
		limit = DefaultMessagePageSize
	}

	query := `
		SELECT m.id, m.channel_id, m.content, m.message_type, m.timestamp,
		       u.id, u.display_name, u.date_joined
		FROM chat_messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = ?
	`
	args := []any{channelID.String()}

	if !before.IsZero() {
		query += " AND m.timestamp <= ?"
		args = append(args, before)
	}
	query += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var msgID, chanID, msgType, userID string

		err := rows.Scan(
			&msgID, &chanID, &msg.Content, &msgType, &msg.Timestamp,
			&userID, &msg.User.DisplayName, &msg.User.DateJoined,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}

		if msg.ID, err = uuid.Parse(msgID); err != nil {
			return nil, fmt.Errorf("corrupt message id %q: %w", msgID, err)
		}
		if msg.ChannelID, err = uuid.Parse(chanID); err != nil {
			return nil, fmt.Errorf("corrupt channel id %q: %w", chanID, err)
		}
		if msg.User.ID, err = uuid.Parse(userID); err != nil {
			return nil, fmt.Errorf("corrupt user id %q: %w", userID, err)
		}
		msg.Type = types.ChatMessageType(msgType)

		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close stops the writer goroutine and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
