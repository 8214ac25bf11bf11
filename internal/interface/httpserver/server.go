package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jinford/book-rag/internal/core/ingestion"
	"github.com/jinford/book-rag/internal/core/jobs"
	"github.com/jinford/book-rag/internal/core/retrieval"
)

// Ingestor は文書のインジェストを実行する
type Ingestor interface {
	Ingest(ctx context.Context, documentPath string) (*ingestion.Result, error)
}

// Asker は質問応答を実行する
type Asker interface {
	Ask(ctx context.Context, question string, k int) (*retrieval.Result, error)
}

// IndexState は現行インデックスの有無と再読み込みを提供する
// index.Manager が実装する
type IndexState interface {
	Exists() bool
	Reload() error
}

// Server はHTTP APIの実装
// インジェストは1ジョブ1ゴルーチンのバックグラウンド実行で、
// ingestMu により実行中のインジェストを常に1つに直列化する
type Server struct {
	ingestor Ingestor
	asker    Asker
	state    IndexState
	jobStore jobs.Store
	dataDir  string
	logger   *slog.Logger

	ingestMu sync.Mutex
}

// Option は Server のオプション設定
type Option func(*Server)

// WithLogger は Server にロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New は新しい Server を作成する
func New(ingestor Ingestor, asker Asker, state IndexState, jobStore jobs.Store, dataDir string, opts ...Option) *Server {
	s := &Server{
		ingestor: ingestor,
		asker:    asker,
		state:    state,
		jobStore: jobStore,
		dataDir:  dataDir,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler はルーティング済みのHTTPハンドラを返す
func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/index-local", s.handleIndexLocal)
		r.Get("/status/{jobID}", s.handleStatus)
	})

	return r
}

// runIngestJob はインジェストジョブを実行し、進捗をジョブテーブルへ書き込む
// cleanup が true の場合は終了後にアップロード済み一時ファイルを削除する
func (s *Server) runIngestJob(ctx context.Context, jobID, documentPath string, cleanup bool) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	if cleanup {
		defer func() {
			if err := os.Remove(documentPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove uploaded file", "path", documentPath, "error", err)
			}
		}()
	}

	s.setJob(ctx, jobID, jobs.StatusRunning, "Indexing started")

	result, err := s.ingestor.Ingest(ctx, documentPath)
	if err != nil {
		s.logger.Error("ingestion job failed", "jobID", jobID, "error", err)
		s.setJob(ctx, jobID, jobs.StatusFailed, err.Error())
		return
	}

	if err := s.state.Reload(); err != nil {
		s.logger.Error("failed to reload index after ingestion", "jobID", jobID, "error", err)
		s.setJob(ctx, jobID, jobs.StatusFailed, err.Error())
		return
	}

	s.setJob(ctx, jobID, jobs.StatusCompleted,
		fmt.Sprintf("Indexed %d pages into %d chunks.", result.PageCount, result.ChunkCount))
}

func (s *Server) setJob(ctx context.Context, jobID string, status jobs.Status, detail string) {
	if err := s.jobStore.Set(ctx, jobID, status, detail); err != nil {
		s.logger.Error("failed to record job status",
			"jobID", jobID,
			"status", status,
			"error", err,
		)
	}
}
