package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mtlcap/internal/storage"
	"mtlcap/internal/storage/models"
	pkgerrors "mtlcap/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A sweep writes from one goroutine; scheduled sweeps may share the file.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	// Run migrations
	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Sweep operations ───────────────────────────────────────────────────────

const sweepColumns = `id, name, label, measured, companion, start_probe, max_probe, max_passing,
	status, reason, scenario, config, started_at, finished_at,
	(SELECT COUNT(*) FROM iterations WHERE iterations.sweep_id = sweeps.id)`

func (d *DB) CreateSweep(ctx context.Context, sweep *models.Sweep) error {
	return createSweep(ctx, d.handle(), sweep)
}
func (t *Tx) CreateSweep(ctx context.Context, sweep *models.Sweep) error {
	return createSweep(ctx, t.handle(), sweep)
}

func createSweep(ctx context.Context, h dbHandle, sweep *models.Sweep) error {
	query := `
		INSERT INTO sweeps (id, name, label, measured, companion, start_probe, max_probe,
		                    max_passing, status, reason, scenario, config, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query,
		sweep.ID, sweep.Name, sweep.Label, sweep.Measured, sweep.Companion,
		sweep.StartProbe, sweep.MaxProbe, sweep.MaxPassing, sweep.Status, sweep.Reason,
		string(sweep.Scenario), nullJSON(sweep.Config), sweep.StartedAt.UTC(), utcPtr(sweep.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create sweep: %w", err)
	}
	return nil
}

func (d *DB) UpdateSweep(ctx context.Context, sweep *models.Sweep) error {
	return updateSweep(ctx, d.handle(), sweep)
}
func (t *Tx) UpdateSweep(ctx context.Context, sweep *models.Sweep) error {
	return updateSweep(ctx, t.handle(), sweep)
}

func updateSweep(ctx context.Context, h dbHandle, sweep *models.Sweep) error {
	query := `
		UPDATE sweeps SET
			max_passing = ?, status = ?, reason = ?, config = ?, finished_at = ?
		WHERE id = ?
	`
	res, err := h.ExecContext(ctx, query,
		sweep.MaxPassing, sweep.Status, sweep.Reason, nullJSON(sweep.Config), utcPtr(sweep.FinishedAt), sweep.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sweep: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrSweepNotFound, sweep.ID)
	}
	return nil
}

func (d *DB) GetSweep(ctx context.Context, id string) (*models.Sweep, error) {
	return getSweep(ctx, d.handle(), id)
}
func (t *Tx) GetSweep(ctx context.Context, id string) (*models.Sweep, error) {
	return getSweep(ctx, t.handle(), id)
}

// getSweep accepts a full id or an unambiguous prefix of one.
func getSweep(ctx context.Context, h dbHandle, id string) (*models.Sweep, error) {
	query := "SELECT " + sweepColumns + " FROM sweeps WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2"
	rows, err := h.QueryContext(ctx, query, id, id+"%", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*models.Sweep
	for rows.Next() {
		s, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrSweepNotFound, id)
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("sweep id prefix %q is ambiguous", id)
	}
}

func (d *DB) GetSweeps(ctx context.Context, filter storage.SweepFilter) ([]*models.Sweep, error) {
	return getSweeps(ctx, d.handle(), filter)
}
func (t *Tx) GetSweeps(ctx context.Context, filter storage.SweepFilter) ([]*models.Sweep, error) {
	return getSweeps(ctx, t.handle(), filter)
}

func getSweeps(ctx context.Context, h dbHandle, filter storage.SweepFilter) ([]*models.Sweep, error) {
	query := "SELECT " + sweepColumns + " FROM sweeps"
	var where []string
	var args []interface{}

	if filter.Label != "" {
		where = append(where, "label = ?")
		args = append(args, filter.Label)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sweeps []*models.Sweep
	for rows.Next() {
		s, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		sweeps = append(sweeps, s)
	}
	return sweeps, rows.Err()
}

func (d *DB) DeleteSweep(ctx context.Context, id string) error {
	return deleteSweep(ctx, d.handle(), id)
}
func (t *Tx) DeleteSweep(ctx context.Context, id string) error {
	return deleteSweep(ctx, t.handle(), id)
}

func deleteSweep(ctx context.Context, h dbHandle, id string) error {
	res, err := h.ExecContext(ctx, "DELETE FROM sweeps WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrSweepNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSweep(row scanner) (*models.Sweep, error) {
	s := &models.Sweep{}
	var scenario string
	var config sql.NullString
	err := row.Scan(
		&s.ID, &s.Name, &s.Label, &s.Measured, &s.Companion, &s.StartProbe, &s.MaxProbe,
		&s.MaxPassing, &s.Status, &s.Reason, &scenario, &config, &s.StartedAt, &s.FinishedAt,
		&s.Iterations,
	)
	if err != nil {
		return nil, err
	}
	s.Scenario = json.RawMessage(scenario)
	if config.Valid {
		s.Config = json.RawMessage(config.String)
	}
	return s, nil
}

// ─── Iteration operations ───────────────────────────────────────────────────

func (d *DB) AddIteration(ctx context.Context, it *models.Iteration) error {
	return addIteration(ctx, d.handle(), it)
}
func (t *Tx) AddIteration(ctx context.Context, it *models.Iteration) error {
	return addIteration(ctx, t.handle(), it)
}

func addIteration(ctx context.Context, h dbHandle, it *models.Iteration) error {
	var warnings interface{}
	if len(it.Warnings) > 0 {
		data, err := json.Marshal(it.Warnings)
		if err != nil {
			return err
		}
		warnings = string(data)
	}
	query := `
		INSERT INTO iterations (sweep_id, idx, sessions, label, passed_count, exit_code, companion_alive,
		                        detail, exception, recovery, warnings, metrics, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		it.SweepID, it.Index, it.Sessions, it.Label, it.PassedCount, it.ExitCode, it.CompanionAlive,
		it.Detail, it.Exception, it.Recovery, warnings, nullJSON(it.Metrics), it.StartedAt.UTC(), it.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to add iteration: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = id
	return nil
}

func (d *DB) GetIterations(ctx context.Context, sweepID string) ([]*models.Iteration, error) {
	return getIterations(ctx, d.handle(), sweepID)
}
func (t *Tx) GetIterations(ctx context.Context, sweepID string) ([]*models.Iteration, error) {
	return getIterations(ctx, t.handle(), sweepID)
}

func getIterations(ctx context.Context, h dbHandle, sweepID string) ([]*models.Iteration, error) {
	query := `
		SELECT id, sweep_id, idx, sessions, label, passed_count, exit_code, companion_alive,
		       detail, exception, recovery, warnings, metrics, started_at, duration_ms
		FROM iterations
		WHERE sweep_id = ?
		ORDER BY idx
	`
	rows, err := h.QueryContext(ctx, query, sweepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iterations []*models.Iteration
	for rows.Next() {
		it := &models.Iteration{}
		var warnings, metrics sql.NullString
		err := rows.Scan(
			&it.ID, &it.SweepID, &it.Index, &it.Sessions, &it.Label, &it.PassedCount, &it.ExitCode,
			&it.CompanionAlive, &it.Detail, &it.Exception, &it.Recovery, &warnings, &metrics,
			&it.StartedAt, &it.DurationMS,
		)
		if err != nil {
			return nil, err
		}
		if warnings.Valid {
			if err := json.Unmarshal([]byte(warnings.String), &it.Warnings); err != nil {
				return nil, fmt.Errorf("iteration %d warnings: %w", it.ID, err)
			}
		}
		if metrics.Valid {
			it.Metrics = json.RawMessage(metrics.String)
		}
		iterations = append(iterations, it)
	}
	return iterations, rows.Err()
}

// ─── Schedule operations ────────────────────────────────────────────────────

const scheduleColumns = `id, name, scenario_path, start_probe, max_probe, enabled, interval,
	last_run, next_run, last_sweep_id, created_at, updated_at`

func (d *DB) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	return createSchedule(ctx, d.handle(), s)
}
func (t *Tx) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	return createSchedule(ctx, t.handle(), s)
}

func createSchedule(ctx context.Context, h dbHandle, s *models.Schedule) error {
	query := `
		INSERT INTO schedules (name, scenario_path, start_probe, max_probe, enabled, interval, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		s.Name, s.ScenarioPath, s.StartProbe, s.MaxProbe, s.Enabled, s.Interval, utcPtr(s.NextRun),
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (d *DB) GetScheduleByName(ctx context.Context, name string) (*models.Schedule, error) {
	return getScheduleByName(ctx, d.handle(), name)
}
func (t *Tx) GetScheduleByName(ctx context.Context, name string) (*models.Schedule, error) {
	return getScheduleByName(ctx, t.handle(), name)
}

func getScheduleByName(ctx context.Context, h dbHandle, name string) (*models.Schedule, error) {
	query := "SELECT " + scheduleColumns + " FROM schedules WHERE name = ?"
	s, err := scanSchedule(h.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule not found: %s", name)
	}
	return s, err
}

func (d *DB) GetAllSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return querySchedules(ctx, d.handle(), "SELECT "+scheduleColumns+" FROM schedules ORDER BY name")
}
func (t *Tx) GetAllSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return querySchedules(ctx, t.handle(), "SELECT "+scheduleColumns+" FROM schedules ORDER BY name")
}

func (d *DB) GetDueSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return getDueSchedules(ctx, d.handle())
}
func (t *Tx) GetDueSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return getDueSchedules(ctx, t.handle())
}

func getDueSchedules(ctx context.Context, h dbHandle) ([]*models.Schedule, error) {
	query := "SELECT " + scheduleColumns + ` FROM schedules
		WHERE enabled = 1
		  AND (next_run IS NULL OR next_run <= ?)
		ORDER BY next_run`
	return querySchedules(ctx, h, query, time.Now().UTC())
}

func querySchedules(ctx context.Context, h dbHandle, query string, args ...interface{}) ([]*models.Schedule, error) {
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (d *DB) UpdateSchedule(ctx context.Context, s *models.Schedule) error {
	return updateSchedule(ctx, d.handle(), s)
}
func (t *Tx) UpdateSchedule(ctx context.Context, s *models.Schedule) error {
	return updateSchedule(ctx, t.handle(), s)
}

func updateSchedule(ctx context.Context, h dbHandle, s *models.Schedule) error {
	query := `
		UPDATE schedules SET
			scenario_path = ?, start_probe = ?, max_probe = ?, enabled = ?, interval = ?,
			last_run = ?, next_run = ?, last_sweep_id = ?
		WHERE id = ?
	`
	_, err := h.ExecContext(ctx, query,
		s.ScenarioPath, s.StartProbe, s.MaxProbe, s.Enabled, s.Interval,
		utcPtr(s.LastRun), utcPtr(s.NextRun), s.LastSweepID, s.ID,
	)
	return err
}

func (d *DB) DeleteSchedule(ctx context.Context, id int64) error {
	return deleteSchedule(ctx, d.handle(), id)
}
func (t *Tx) DeleteSchedule(ctx context.Context, id int64) error {
	return deleteSchedule(ctx, t.handle(), id)
}

func deleteSchedule(ctx context.Context, h dbHandle, id int64) error {
	_, err := h.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	return err
}

func scanSchedule(row scanner) (*models.Schedule, error) {
	s := &models.Schedule{}
	err := row.Scan(
		&s.ID, &s.Name, &s.ScenarioPath, &s.StartProbe, &s.MaxProbe, &s.Enabled, &s.Interval,
		&s.LastRun, &s.NextRun, &s.LastSweepID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrSettingNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
