package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/book-rag/internal/core/chunk"
	"github.com/jinford/book-rag/internal/core/index"
)

const (
	// DefaultChunkSizeWords はチャンクあたりのデフォルト最大単語数
	DefaultChunkSizeWords = chunk.DefaultSizeWords

	// DefaultEmbeddingBatchSize は1回のEmbedding呼び出しに渡すデフォルトのチャンク数
	DefaultEmbeddingBatchSize = 128
)

// ErrEmptyDocument は文書全体から1つもチャンクが得られなかった
// （スキャンPDFなど抽出可能なテキストを持たない文書）
var ErrEmptyDocument = errors.New("no extractable text in document")

// Document はページ構造を持つ読み取り済み文書
type Document interface {
	// PageCount は総ページ数を返す
	PageCount() int

	// PageText は1始まりのページ番号のテキストを返す
	// 抽出可能なテキストがないページは空文字列を返す
	PageText(page int) (string, error)

	// Close は文書のリソースを解放する
	Close() error
}

// DocumentOpener はパスから文書を開く
type DocumentOpener interface {
	Open(path string) (Document, error)
}

// Embedder はテキスト列をベクトル列に変換する
type Embedder interface {
	// EmbedTexts は入力と同数・同順のベクトル列を返す
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension は生成されるベクトルの次元数を返す
	Dimension() int
}

// Result はインジェスト結果の要約
type Result struct {
	PageCount  int    `json:"pages"`
	ChunkCount int    `json:"chunks"`
	BookPath   string `json:"bookPath"`
}

// Service は1つの文書から新しいインデックス世代を構築する
// 1回の呼び出しは成功か失敗で完結し、内部でのリトライは行わない
// （リトライはEmbedding側クライアントの責務）
type Service struct {
	store     *index.Store
	opener    DocumentOpener
	embedder  Embedder
	chunkSize int
	batchSize int
	logger    *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithChunkSizeWords はチャンクあたりの最大単語数を上書きする
func WithChunkSizeWords(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithEmbeddingBatchSize はEmbeddingバッチサイズを上書きする
func WithEmbeddingBatchSize(size int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithLogger は Service にロガーを設定する
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService は新しい Service を作成する
func NewService(store *index.Store, opener DocumentOpener, embedder Embedder, opts ...ServiceOption) *Service {
	svc := &Service{
		store:     store,
		opener:    opener,
		embedder:  embedder,
		chunkSize: DefaultChunkSizeWords,
		batchSize: DefaultEmbeddingBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Ingest は文書をページ順にチャンク化・ベクトル化し、新しい世代として公開する
// 途中で失敗した場合は一時成果物を破棄し、既存の世代には手を付けない
func (s *Service) Ingest(ctx context.Context, documentPath string) (*Result, error) {
	doc, err := s.opener.Open(documentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	rep, err := s.store.Begin()
	if err != nil {
		return nil, err
	}
	defer rep.Abort()

	s.logger.Info("ingestion started",
		"document", documentPath,
		"pages", doc.PageCount(),
		"chunkSizeWords", s.chunkSize,
		"batchSize", s.batchSize,
	)

	var (
		accumulator   *index.FlatIndex
		pendingTexts  []string
		pendingChunks []chunk.Chunk
	)

	flush := func() error {
		if len(pendingTexts) == 0 {
			return nil
		}
		vectors, err := s.embedder.EmbedTexts(ctx, pendingTexts)
		if err != nil {
			return fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(vectors) != len(pendingTexts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(pendingTexts))
		}
		if accumulator == nil {
			accumulator, err = index.NewFlatIndex(len(vectors[0]))
			if err != nil {
				return err
			}
		}
		if err := accumulator.Add(vectors); err != nil {
			return err
		}
		if err := rep.Append(pendingChunks); err != nil {
			return err
		}
		pendingTexts = pendingTexts[:0]
		pendingChunks = pendingChunks[:0]
		return nil
	}

	for page := 1; page <= doc.PageCount(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.PageText(page)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", page, err)
		}
		for c := range chunk.SplitPage(text, page, s.chunkSize) {
			pendingTexts = append(pendingTexts, c.Text)
			pendingChunks = append(pendingChunks, c)
			if len(pendingTexts) >= s.batchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	if accumulator == nil || rep.Count() == 0 {
		return nil, ErrEmptyDocument
	}

	if err := rep.Commit(accumulator, documentPath); err != nil {
		return nil, err
	}

	result := &Result{
		PageCount:  doc.PageCount(),
		ChunkCount: rep.Count(),
		BookPath:   s.store.BookPath(),
	}

	s.logger.Info("ingestion completed",
		"pages", result.PageCount,
		"chunks", result.ChunkCount,
		"bookPath", result.BookPath,
	)

	return result, nil
}
