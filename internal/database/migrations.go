package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- Lifecycle and console activity, one row per event
CREATE TABLE activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    instance TEXT NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    actor TEXT NOT NULL DEFAULT '',
    activity_type TEXT NOT NULL,
    description TEXT NOT NULL,
    metadata TEXT,
    success BOOLEAN NOT NULL DEFAULT 1,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_activity_instance ON activity_log(instance);
CREATE INDEX idx_activity_timestamp ON activity_log(timestamp);
CREATE INDEX idx_activity_type ON activity_log(activity_type);

-- Last known process of each instance, kept across manager restarts
CREATE TABLE instance_status (
    instance TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    pid INTEGER NOT NULL DEFAULT 0,
    run_id TEXT NOT NULL DEFAULT '',
    log_path TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    last_checked DATETIME,
    updated_at DATETIME NOT NULL
);

-- One row per launch
CREATE TABLE run_logs (
    run_id TEXT PRIMARY KEY,
    instance TEXT NOT NULL,
    pid INTEGER NOT NULL,
    log_path TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    ended_at DATETIME,
    exit_code INTEGER
);

CREATE INDEX idx_run_logs_instance ON run_logs(instance, started_at);
`,
		Down: `
DROP TABLE IF EXISTS run_logs;
DROP TABLE IF EXISTS instance_status;
DROP TABLE IF EXISTS activity_log;
`,
	},
	{
		Version: "002_memory_snapshots",
		Up: `
CREATE TABLE memory_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    total_gb INTEGER NOT NULL,
    reserve_gb INTEGER NOT NULL,
    committed_gb INTEGER NOT NULL,
    available_gb INTEGER NOT NULL,
    running INTEGER NOT NULL
);

CREATE INDEX idx_memory_snapshots_timestamp ON memory_snapshots(timestamp);
`,
		Down: `
DROP TABLE IF EXISTS memory_snapshots;
`,
	},
	{
		Version: "003_command_history",
		Up: `
CREATE TABLE command_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance TEXT NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    command TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL
);

CREATE INDEX idx_command_history_instance ON command_history(instance, created_at);
`,
		Down: `
DROP TABLE IF EXISTS command_history;
`,
	},
	{
		Version: "004_backups",
		Up: `
-- Install directory archives and where they were stored
CREATE TABLE backups (
    id TEXT PRIMARY KEY,
    instance TEXT NOT NULL,
    filename TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    file_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    completed_at DATETIME,
    destination_type TEXT NOT NULL,
    destination_path TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    created_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_backups_instance ON backups(instance, created_at);
`,
		Down: `
DROP TABLE IF EXISTS backups;
`,
	},
}
