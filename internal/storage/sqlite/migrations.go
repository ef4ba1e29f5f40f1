package sqlite

const schema = `
-- Capacity sweeps
CREATE TABLE IF NOT EXISTS sweeps (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    label TEXT NOT NULL,
    measured TEXT NOT NULL,
    companion TEXT NOT NULL,
    start_probe INTEGER NOT NULL,
    max_probe INTEGER NOT NULL,
    max_passing INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running',
    reason TEXT NOT NULL DEFAULT '',

    -- Scenario descriptor and best measured configuration (JSON)
    scenario TEXT NOT NULL,
    config TEXT,

    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

-- Iterations of a sweep, in probe order
CREATE TABLE IF NOT EXISTS iterations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sweep_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    sessions INTEGER NOT NULL,
    label TEXT NOT NULL,
    passed_count INTEGER NOT NULL DEFAULT 0,
    exit_code INTEGER NOT NULL,
    companion_alive BOOLEAN NOT NULL DEFAULT 0,
    detail TEXT NOT NULL DEFAULT '',
    exception TEXT NOT NULL DEFAULT '',
    recovery TEXT NOT NULL DEFAULT 'none',
    warnings TEXT,
    metrics TEXT,
    started_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    UNIQUE (sweep_id, idx),
    FOREIGN KEY (sweep_id) REFERENCES sweeps(id) ON DELETE CASCADE
);

-- Recurring sweeps
CREATE TABLE IF NOT EXISTS schedules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    scenario_path TEXT NOT NULL,
    start_probe INTEGER NOT NULL,
    max_probe INTEGER NOT NULL,
    enabled BOOLEAN DEFAULT 1,
    interval INTEGER DEFAULT 86400,
    last_run TIMESTAMP,
    next_run TIMESTAMP,
    last_sweep_id TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_sweeps_label ON sweeps(label);
CREATE INDEX IF NOT EXISTS idx_sweeps_started_at ON sweeps(started_at);
CREATE INDEX IF NOT EXISTS idx_iterations_sweep_id ON iterations(sweep_id);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run);

-- Triggers for updated_at
CREATE TRIGGER IF NOT EXISTS update_schedules_timestamp AFTER UPDATE ON schedules
BEGIN
    UPDATE schedules SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS update_settings_timestamp AFTER UPDATE ON settings
BEGIN
    UPDATE settings SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

// Keep in sync with app.Defaults.
const defaultData = `
INSERT OR IGNORE INTO settings (key, value) VALUES
    ('warm_up', '10s'),
    ('cool_down', '5s'),
    ('threshold', '0.99'),
    ('settle', '10s'),
    ('companion_grace', '10s'),
    ('timeout_buffer', '30s'),
    ('drain', '2s'),
    ('startup_scan_lines', '50'),
    ('link_recovery', '10s'),
    ('rebind_settle', '2s'),
    ('driver', 'vfio-pci'),
    ('devbind', 'dpdk-devbind.py'),
    ('sudo', 'false'),
    ('stale_patterns', 'RxTxApp'),
    ('clean_exit_codes', '0'),
    ('app_path', 'tests/tools/RxTxApp/build/RxTxApp'),
    ('media_dir', '/mnt/media'),
    ('log_level', 'info');
`

// runMigrations executes the database schema and default data
func runMigrations(db *DB) error {
	// Execute schema
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}

	// Insert default data
	if _, err := db.db.Exec(defaultData); err != nil {
		return err
	}

	return nil
}
