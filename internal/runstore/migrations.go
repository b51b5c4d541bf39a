package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    outcome TEXT,
    sample_count INTEGER NOT NULL,
    individual_directories BOOLEAN DEFAULT FALSE,
    bridge_port TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS samples (
    run_id TEXT NOT NULL REFERENCES runs(id),
    idx INTEGER NOT NULL,
    name TEXT NOT NULL,
    output_directory TEXT NOT NULL,
    acquire_script TEXT NOT NULL,
    process_script TEXT NOT NULL,
    acquisition_status TEXT NOT NULL DEFAULT 'not_started',
    processing_status TEXT NOT NULL DEFAULT 'not_started',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    timestamp TIMESTAMP NOT NULL,
    kind TEXT NOT NULL,
    message TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`
