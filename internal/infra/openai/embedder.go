package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"github.com/jinford/book-rag/internal/core/ingestion"
	"github.com/jinford/book-rag/internal/core/retrieval"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimension はデフォルトのベクトル次元
	DefaultEmbeddingDimension = 1536

	// DefaultBatchSize は1回のAPI呼び出しに含める最大テキスト数
	DefaultBatchSize = 128

	// DefaultRequestsPerSecond はAPI呼び出しレートのデフォルト上限
	DefaultRequestsPerSecond = 4

	// embedMaxRetries はバッチEmbedding失敗時の最大リトライ回数（合計5回試行）
	embedMaxRetries = 4
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
// バッチ分割・レート制限・ランダム化指数バックオフによるリトライを内包し、
// リトライが尽きた失敗はそのまま呼び出し元へ返す
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	batchSize int
	limiter   *rate.Limiter
}

type embedderOptions struct {
	model             string
	dimension         int
	batchSize         int
	requestsPerSecond float64
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithBatchSize は1回のAPI呼び出しに含める最大テキスト数を上書きする
func WithBatchSize(size int) EmbedderOption {
	return func(o *embedderOptions) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithRequestsPerSecond はAPI呼び出しレートの上限を上書きする
func WithRequestsPerSecond(rps float64) EmbedderOption {
	return func(o *embedderOptions) {
		if rps > 0 {
			o.requestsPerSecond = rps
		}
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:             DefaultEmbeddingModel,
		dimension:         DefaultEmbeddingDimension,
		batchSize:         DefaultBatchSize,
		requestsPerSecond: DefaultRequestsPerSecond,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     options.model,
		dimension: options.dimension,
		batchSize: options.batchSize,
		limiter:   rate.NewLimiter(rate.Limit(options.requestsPerSecond), 1),
	}
}

// EmbedTexts はテキスト列を同数・同順のベクトル列に変換する
// 入力は batchSize ごとに分割してAPIへ送る
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery は単一テキストのベクトルを生成する
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return vectors[0], nil
}

// embedBatch は1バッチをAPIへ送り、リトライ込みでベクトル列を得る
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	operation := func() ([][]float32, error) {
		vectors, err := e.callEmbeddings(ctx, texts)
		if err != nil {
			if isRetryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return vectors, nil
	}

	vectors, err := backoff.RetryWithData(operation, newRetryBackOff(ctx, embedMaxRetries))
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return vectors, nil
}

func (e *Embedder) callEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors[int(data.Index)] = vector
	}
	return vectors, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// BatchSize は1回のAPI呼び出しに含める最大テキスト数を返す
func (e *Embedder) BatchSize() int {
	return e.batchSize
}

// newRetryBackOff はランダム化指数バックオフを作成する
// 間隔は初期1秒・最大20秒、試行回数は maxRetries+1 回で打ち切る
func newRetryBackOff(ctx context.Context, maxRetries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 20 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// インターフェース実装の確認
var (
	_ ingestion.Embedder      = (*Embedder)(nil)
	_ retrieval.QueryEmbedder = (*Embedder)(nil)
)
