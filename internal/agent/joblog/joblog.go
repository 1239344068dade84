package joblog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry represents one executed job
type Entry struct {
	ID         int64
	JobID      string
	Model      string
	Success    bool
	DurationMs int64
	CreatedAt  time.Time
}

// DB wraps the local SQLite job log
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema
func NewDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}

	// WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}

	// SQLite works best with limited connections
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema failed: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		model TEXT NOT NULL,
		success INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_job_id ON job_logs(job_id);
	CREATE INDEX IF NOT EXISTS idx_created_at ON job_logs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Insert records one executed job
func (db *DB) Insert(entry *Entry) error {
	result, err := db.conn.Exec(`
		INSERT INTO job_logs (job_id, model, success, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.JobID, entry.Model, boolToInt(entry.Success), entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// AggregateStats holds aggregate statistics from the job log
type AggregateStats struct {
	TotalJobs int
	Succeeded int
	TodayJobs int
	AvgMillis float64
}

// GetAggregateStats returns totals across all executed jobs
func (db *DB) GetAggregateStats() (*AggregateStats, error) {
	stats := &AggregateStats{}

	err := db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0)
		FROM job_logs
	`).Scan(&stats.TotalJobs, &stats.Succeeded, &stats.AvgMillis)
	if err != nil {
		return nil, fmt.Errorf("query total stats: %w", err)
	}

	today := time.Now().Format("2006-01-02")
	err = db.conn.QueryRow(`
		SELECT COUNT(*) FROM job_logs WHERE DATE(created_at) = ?
	`, today).Scan(&stats.TodayJobs)
	if err != nil {
		return nil, fmt.Errorf("query today stats: %w", err)
	}

	return stats, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
