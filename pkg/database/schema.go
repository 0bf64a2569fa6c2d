package database

// Migration is one versioned schema change, applied in version order inside
// a transaction and recorded in schema_migrations.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrations holds the full schema history, embedded so a deployment is a
// single binary plus its database file.
var Migrations = []Migration{
	{
		Version:     "001",
		Description: "initial schema",
		SQL: `
			CREATE TABLE users (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				date_joined DATETIME NOT NULL
			);

			CREATE TABLE topics (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL
			);

			CREATE TABLE study_sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id),
				topic_id TEXT NOT NULL REFERENCES topics(id),
				started_at DATETIME NOT NULL,
				duration_ms INTEGER NOT NULL
			);

			CREATE INDEX idx_study_sessions_user_time ON study_sessions(user_id, started_at);
			CREATE INDEX idx_study_sessions_topic ON study_sessions(topic_id);
		`,
	},
	{
		Version:     "002",
		Description: "chat messages",
		SQL: `
			CREATE TABLE chat_messages (
				id TEXT PRIMARY KEY,
				channel_id TEXT NOT NULL,
				user_id TEXT NOT NULL REFERENCES users(id),
				content TEXT NOT NULL,
				message_type TEXT NOT NULL DEFAULT 'USER',
				timestamp DATETIME NOT NULL
			);

			CREATE INDEX idx_chat_messages_channel_time ON chat_messages(channel_id, timestamp);
		`,
	},
}

// RequiredTables lists the tables ValidateSchema checks for after applying
// migrations.
var RequiredTables = []string{"users", "topics", "study_sessions", "chat_messages", "schema_migrations"}

// RequiredIndexes lists the performance indexes ValidateSchema checks for.
var RequiredIndexes = []string{
	"idx_study_sessions_user_time",
	"idx_study_sessions_topic",
	"idx_chat_messages_channel_time",
}
