package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/book-rag/internal/core/index"
)

const (
	// DefaultTopK は検索候補のデフォルト件数
	DefaultTopK = 5

	// DefaultMinConfidence は回答を試みる最低確信度のデフォルト値
	DefaultMinConfidence = 0.35
)

// QueryEmbedder は質問文をベクトルに変換する
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CompletionClient はコンテキスト付きプロンプトから回答テキストを生成する
// 一時的な障害のリトライはクライアント側の責務で、尽きた場合はエラーが返る
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenerationSource は現行のインデックス世代を提供する
// index.Manager が実装する
type GenerationSource interface {
	Current() (*index.Generation, bool)
}

// Service は質問応答のビジネスロジックを提供する
// 確信度ゲートを通過した場合のみ補完モデルを呼び出す
type Service struct {
	generations   GenerationSource
	embedder      QueryEmbedder
	llm           CompletionClient
	prompt        *PromptBuilder
	topK          int
	minConfidence float64
	logger        *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithTopK は検索候補のデフォルト件数を上書きする
func WithTopK(k int) ServiceOption {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMinConfidence は回答を試みる最低確信度を上書きする
func WithMinConfidence(threshold float64) ServiceOption {
	return func(s *Service) {
		s.minConfidence = threshold
	}
}

// WithPromptBuilder はプロンプトビルダーを差し替える
func WithPromptBuilder(builder *PromptBuilder) ServiceOption {
	return func(s *Service) {
		if builder != nil {
			s.prompt = builder
		}
	}
}

// WithServiceLogger は Service にロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService は新しい Service を作成する
func NewService(generations GenerationSource, embedder QueryEmbedder, llm CompletionClient, opts ...ServiceOption) *Service {
	svc := &Service{
		generations:   generations,
		embedder:      embedder,
		llm:           llm,
		prompt:        NewPromptBuilder(),
		topK:          DefaultTopK,
		minConfidence: DefaultMinConfidence,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Search は質問文をベクトル化し、現行世代から類似度上位 k 件の候補を返す
// インデックスが読み込まれていない場合は ErrIndexUnavailable を返す
func (s *Service) Search(ctx context.Context, question string, k int) ([]Candidate, error) {
	gen, ok := s.generations.Current()
	if !ok {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 {
		k = s.topK
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	hits, err := gen.Index.Search(queryVector, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		// レコード範囲外の位置は呼び出し側で読み飛ばす
		if hit.Position < 0 || hit.Position >= len(gen.Records) {
			continue
		}
		rec := gen.Records[hit.Position]
		score := float64(hit.Score)
		candidates = append(candidates, Candidate{
			Page:       rec.Page,
			Score:      score,
			Confidence: confidenceFromScore(score),
			Text:       rec.Text,
			Snippet:    makeSnippet(rec.Text),
		})
	}
	return candidates, nil
}

// Ask は質問に対して書籍の内容のみを根拠とする回答を生成する
// 候補が無い、または最大確信度が閾値未満の場合は補完モデルを呼ばずに
// NotFound の結果を返す（コスト最適化と根拠保証の両方を兼ねる）
func (s *Service) Ask(ctx context.Context, question string, k int) (*Result, error) {
	candidates, err := s.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		s.logger.Info("no candidates retrieved", "question", question)
		return notFoundResult(0), nil
	}

	bestConfidence := candidates[0].Confidence
	for _, c := range candidates[1:] {
		if c.Confidence > bestConfidence {
			bestConfidence = c.Confidence
		}
	}

	if bestConfidence < s.minConfidence {
		s.logger.Info("confidence below threshold, skipping completion",
			"bestConfidence", bestConfidence,
			"minConfidence", s.minConfidence,
		)
		return notFoundResult(bestConfidence), nil
	}

	prompt := s.prompt.Build(question, candidates)
	answer, err := s.llm.Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if strings.EqualFold(answer, NotFoundAnswer) {
		s.logger.Info("completion reported no supporting context",
			"bestConfidence", bestConfidence,
		)
		return notFoundResult(bestConfidence), nil
	}

	sources := make([]Source, 0, len(candidates))
	for _, c := range candidates {
		sources = append(sources, Source{
			Page:       c.Page,
			Confidence: c.Confidence,
			Snippet:    c.Snippet,
		})
	}

	s.logger.Info("ask completed",
		"answerLength", len(answer),
		"bestConfidence", bestConfidence,
		"sources", len(sources),
	)

	return &Result{
		Outcome:    OutcomeAnswered,
		Answer:     answer,
		Confidence: bestConfidence,
		Sources:    sources,
	}, nil
}
