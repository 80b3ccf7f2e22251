package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Index is the secondary query index over JobRecords. FileStore writes to
// it on hydration, on every persist and on prune, and it is never the
// source of truth: if it disagrees with a job_NNNN directory, the directory
// wins. No FileStore method reads it; List, Get and Cancel are served from
// the in-memory records.
type Index interface {
	Upsert(ctx context.Context, rec *JobRecord) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// SQLIndex implements Index against any database/sql driver using the
// tool_jobs table.
// job store. driverName is "sqlite" (modernc.org/sqlite, pure Go, default)
// or "postgres" (lib/pq) when jobs.index_dsn points at a real cluster.
type SQLIndex struct {
	db *sql.DB
}

// OpenSQLIndex opens (and migrates) a secondary index database.
func OpenSQLIndex(ctx context.Context, driverName, dsn string) (*SQLIndex, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("jobs: open index: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jobs: ping index: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS tool_jobs (
		id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		request_id TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		summary TEXT,
		error_code TEXT,
		error_message TEXT
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("jobs: migrate index: %w", err)
	}
	return &SQLIndex{db: db}, nil
}

func (idx *SQLIndex) Upsert(ctx context.Context, rec *JobRecord) error {
	if rec == nil {
		return nil
	}
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO tool_jobs (id, tool_name, request_id, status, created_at, started_at, finished_at, summary, error_code, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			summary = excluded.summary,
			error_code = excluded.error_code,
			error_message = excluded.error_message
	`,
		rec.ID, rec.ToolName, rec.RequestID, string(rec.Status),
		rec.CreatedAt, nullTime(rec.StartedAt), nullTime(rec.FinishedAt),
		rec.Summary, rec.ErrorCode, rec.ErrorMsg,
	)
	if err != nil {
		return fmt.Errorf("jobs: upsert index row: %w", err)
	}
	return nil
}

func (idx *SQLIndex) Delete(ctx context.Context, id string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM tool_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("jobs: delete index row: %w", err)
	}
	return nil
}

func (idx *SQLIndex) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
