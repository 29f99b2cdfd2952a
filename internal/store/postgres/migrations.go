// Package postgres implements the PostgreSQL progress store for bookfeed.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE USERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create users table
-- Version: 001

CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username VARCHAR(100) NOT NULL DEFAULT '',
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    active_document_id UUID,

    -- Delivery settings (JSONB for flexibility)
    settings JSONB NOT NULL DEFAULT '{
        "pages_per_send": 3,
        "mode": "interval",
        "schedule_time": "09:00",
        "interval_hours": 6,
        "quality": "standard",
        "auto_send": true
    }'::jsonb,

    -- Gamification state. The level is never stored: it is always
    -- recomputed from experience.
    total_points INTEGER NOT NULL DEFAULT 0,
    experience INTEGER NOT NULL DEFAULT 0,
    pages_read INTEGER NOT NULL DEFAULT 0,
    books_completed INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_read_date VARCHAR(10) NOT NULL DEFAULT '',

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_points CHECK (total_points >= 0),
    CONSTRAINT valid_experience CHECK (experience >= 0),
    CONSTRAINT valid_pages_read CHECK (pages_read >= 0),
    CONSTRAINT valid_streaks CHECK (current_streak >= 0 AND longest_streak >= current_streak)
);

-- Leaderboard queries sort by points
CREATE INDEX IF NOT EXISTS idx_users_total_points ON users(total_points DESC);
CREATE INDEX IF NOT EXISTS idx_users_active_document ON users(active_document_id) WHERE active_document_id IS NOT NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS users CASCADE;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE DOCUMENTS AND PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create documents and reading progress
-- Version: 002

CREATE TABLE IF NOT EXISTS documents (
    id UUID PRIMARY KEY,
    owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    source_path TEXT NOT NULL,
    title VARCHAR(255) NOT NULL,
    page_count INTEGER NOT NULL,
    uploaded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_page_count CHECK (page_count >= 1)
);

CREATE INDEX IF NOT EXISTS idx_documents_owner_id ON documents(owner_id);

-- One progress row per (user, document) pair. The pair survives switching
-- the active book, so returning to an old book resumes where it stopped.
CREATE TABLE IF NOT EXISTS reading_progress (
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    current_page INTEGER NOT NULL DEFAULT 1,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    last_sent_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, document_id),
    CONSTRAINT valid_current_page CHECK (current_page >= 1)
);
`

const migration002Down = `
DROP TABLE IF EXISTS reading_progress CASCADE;
DROP TABLE IF EXISTS documents CASCADE;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE SESSION LEDGER AND ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create session ledger and achievements
-- Version: 003

-- Append-only ledger. The primary key on the caller-supplied session id is
-- what makes advance commits idempotent: a replayed commit hits the unique
-- constraint instead of awarding points twice.
CREATE TABLE IF NOT EXISTS reading_sessions (
    id UUID PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    document_id UUID NOT NULL,
    pages_read INTEGER NOT NULL,
    points_earned INTEGER NOT NULL DEFAULT 0,
    completed_book BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_pages CHECK (pages_read >= 1)
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON reading_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_user_date ON reading_sessions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_achievements (
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    achievement_key VARCHAR(50) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, achievement_key)
);

CREATE INDEX IF NOT EXISTS idx_achievements_user_id ON user_achievements(user_id);
`

const migration003Down = `
DROP TABLE IF EXISTS user_achievements CASCADE;
DROP TABLE IF EXISTS reading_sessions CASCADE;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_users",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_documents_progress",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_sessions_achievements",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
