package store

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    log_path TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    actor TEXT NOT NULL,
    change_ticket TEXT NOT NULL,
    deployable_name TEXT NOT NULL,
    deployable_version TEXT NOT NULL,
    deployable_kind TEXT NOT NULL,
    collection_name TEXT NOT NULL,
    collection_id TEXT NOT NULL,
    member_count INTEGER NOT NULL,
    purpose TEXT NOT NULL,
    deadline_at TEXT NOT NULL,
    deployment_id TEXT NOT NULL,
    result TEXT NOT NULL,
    comment TEXT NOT NULL,
    succeeded BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS index_state (
    log_path TEXT PRIMARY KEY,
    byte_offset INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_collection ON audit_records(collection_name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_records_deployable ON audit_records(deployable_name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON audit_records(timestamp);
`
