package store

// Schema contains SQL schema definitions for the audit store. It holds no
// credentials and no message data.
const Schema = `
-- One row per identity that ever connected
CREATE TABLE IF NOT EXISTS identities (
    identity TEXT PRIMARY KEY,
    host TEXT NOT NULL,
    connect_count INTEGER NOT NULL DEFAULT 0,
    last_connected_at DATETIME,
    last_disconnected_at DATETIME
);

-- Connect, failure and disconnect events
CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identity TEXT NOT NULL,
    host TEXT NOT NULL DEFAULT '',
    event TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_events_identity ON session_events(identity, created_at);
`
