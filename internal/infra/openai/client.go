package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/book-rag/internal/core/retrieval"
)

const (
	// DefaultChatModel はデフォルトで使用する補完モデル
	DefaultChatModel = "gpt-4o-mini"

	// completionMaxRetries は補完失敗時の最大リトライ回数（合計4回試行）
	completionMaxRetries = 3
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// CompletionClient は OpenAI Chat Completions API のクライアント
// 回答の再現性を優先し、常に temperature 0 で呼び出す
type CompletionClient struct {
	client openai.Client
	model  string
}

// CompletionOption は CompletionClient のオプション設定
type CompletionOption func(*CompletionClient)

// WithChatModel はモデル名を上書きする
func WithChatModel(model string) CompletionOption {
	return func(c *CompletionClient) {
		if model != "" {
			c.model = model
		}
	}
}

// NewCompletionClient は新しい CompletionClient を作成する
func NewCompletionClient(apiKey string, opts ...CompletionOption) (*CompletionClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	client := &CompletionClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  DefaultChatModel,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ModelName はモデル名を返す
func (c *CompletionClient) ModelName() string {
	return c.model
}

// Complete はシステム・ユーザーメッセージから回答テキストを生成する
// 一時的な障害はランダム化指数バックオフでリトライし、尽きたらエラーを返す
func (c *CompletionClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	operation := func() (string, error) {
		content, err := c.callCompletion(ctx, systemPrompt, userPrompt)
		if err != nil {
			if isRetryable(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return content, nil
	}

	content, err := backoff.RetryWithData(operation, newRetryBackOff(ctx, completionMaxRetries))
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	return content, nil
}

func (c *CompletionClient) callCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

// isRetryable はリトライに値する一時的障害かどうかを判定する
// レート制限(429)とサーバ側エラー(5xx)、APIエラー以外（ネットワーク等）を一時的とみなす
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	// ステータスコードを持たない失敗は通信系の一時的障害として扱う
	return true
}

// インターフェース実装の確認
var _ retrieval.CompletionClient = (*CompletionClient)(nil)
