package storage

// Timestamps are stored as unix nanoseconds so reads return exactly what was written.
const schema = `
-- 'decks' holds one row per imported source.
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    visibility TEXT NOT NULL DEFAULT 'private',
    source TEXT NOT NULL UNIQUE,
    last_synced INTEGER
);

-- 'cards' are read-only content for the review engine.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    media TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    difficulty_hint REAL NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id, position);

-- 'review_states' holds one row per (user, card). 'version' guards every update.
CREATE TABLE IF NOT EXISTS review_states (
    user_id TEXT NOT NULL,
    flashcard_id TEXT NOT NULL,
    easiness_factor REAL NOT NULL CHECK (easiness_factor >= 1.3),
    interval_days INTEGER NOT NULL CHECK (interval_days >= 0),
    repetition_count INTEGER NOT NULL CHECK (repetition_count >= 0),
    last_reviewed INTEGER,
    next_review_date INTEGER NOT NULL,
    total_reviews INTEGER NOT NULL DEFAULT 0,
    total_correct INTEGER NOT NULL DEFAULT 0,
    total_incorrect INTEGER NOT NULL DEFAULT 0,
    review_history TEXT NOT NULL DEFAULT '[]',
    average_quality REAL NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,

    PRIMARY KEY (user_id, flashcard_id),
    FOREIGN KEY(flashcard_id) REFERENCES cards(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_review_states_due ON review_states(user_id, next_review_date);

CREATE TABLE IF NOT EXISTS review_streaks (
    user_id TEXT PRIMARY KEY,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_review_date TEXT,
    total_review_days INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS review_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    deck_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    reviewed INTEGER NOT NULL DEFAULT 0,
    correct INTEGER NOT NULL DEFAULT 0,
    incorrect INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);
`
