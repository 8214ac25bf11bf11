package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLiteドライバ

	"github.com/jinford/book-rag/internal/core/jobs"
)

const jobsDBFileName = "jobs.db"

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);
`

// JobStore はSQLiteに永続化するジョブ状態テーブル
// プロセス再起動後もジョブの終端状態を参照できるようにする
type JobStore struct {
	db   *sql.DB
	path string
}

// NewJobStore はデータディレクトリ配下にジョブDBを開く
func NewJobStore(dataDir string) (*JobStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, jobsDBFileName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	if _, err := db.Exec(jobsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}

	return &JobStore{db: db, path: dbPath}, nil
}

// Set はジョブの状態を作成または上書きする
func (s *JobStore) Set(ctx context.Context, jobID string, status jobs.Status, detail string) error {
	const query = `
INSERT INTO jobs (job_id, status, detail, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	status = excluded.status,
	detail = excluded.detail,
	updated_at = excluded.updated_at
`
	if _, err := s.db.ExecContext(ctx, query, jobID, string(status), detail, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", jobID, err)
	}
	return nil
}

// Get はジョブの状態を取得する
// 存在しない場合は jobs.ErrNotFound を返す
func (s *JobStore) Get(ctx context.Context, jobID string) (*jobs.Record, error) {
	const query = `SELECT job_id, status, detail, updated_at FROM jobs WHERE job_id = ?`

	var rec jobs.Record
	var status string
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(&rec.JobID, &status, &rec.Detail, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query job %s: %w", jobID, err)
	}
	rec.Status = jobs.Status(status)
	return &rec, nil
}

// Path はDBファイルのパスを返す
func (s *JobStore) Path() string {
	return s.path
}

// Close はDB接続を閉じる
func (s *JobStore) Close() error {
	return s.db.Close()
}

// インターフェース実装の確認
var _ jobs.Store = (*JobStore)(nil)
