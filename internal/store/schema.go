package store

// Schema contains the DDL for the aibadge tables.
const Schema = `
-- Key/value entries: the cached identifier list and its fetch time
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Lookup journal: one row per confirmation lookup
CREATE TABLE IF NOT EXISTS lookup_log (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    identifier TEXT NOT NULL,
    outcome    TEXT NOT NULL,
    status     INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    error      TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lookup_identifier ON lookup_log(identifier, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_lookup_outcome ON lookup_log(outcome);
`
