package jobs

import (
	"context"
	"errors"
	"time"
)

// Status はジョブの進行状況を表す
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound は指定されたジョブIDのレコードが存在しない
var ErrNotFound = errors.New("job not found")

// Record はジョブの状態を表す
// completed / failed が終端状態で、レコードが削除されることはない
type Record struct {
	JobID     string    `json:"jobID"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store はジョブ状態の永続化インターフェース
// インジェスト処理からは進捗報告用の書き込み先としてのみ使われる
type Store interface {
	// Set はジョブの状態を作成または上書きする
	Set(ctx context.Context, jobID string, status Status, detail string) error

	// Get はジョブの状態を取得する
	// 存在しない場合は ErrNotFound を返す
	Get(ctx context.Context, jobID string) (*Record, error)
}
