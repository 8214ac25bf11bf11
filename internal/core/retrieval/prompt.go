package retrieval

import (
	"fmt"
	"log/slog"
	"strings"
)

// SystemPrompt は補完モデルへ渡すシステムメッセージ
const SystemPrompt = "Answer from context only."

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	Count(text string) int
}

// PromptBuilder はコンテキスト付きの質問応答プロンプトを組み立てる
// counter が設定されている場合、コンテキストのトークン数が maxContextTokens を
// 超えないよう、類似度の低い候補から順に落とす（先頭の候補は必ず残す）
type PromptBuilder struct {
	counter          TokenCounter
	maxContextTokens int
	logger           *slog.Logger
}

// PromptBuilderOption は PromptBuilder のオプション設定
type PromptBuilderOption func(*PromptBuilder)

// WithTokenBudget はトークン数カウンタとコンテキスト上限を設定する
func WithTokenBudget(counter TokenCounter, maxContextTokens int) PromptBuilderOption {
	return func(b *PromptBuilder) {
		if counter != nil && maxContextTokens > 0 {
			b.counter = counter
			b.maxContextTokens = maxContextTokens
		}
	}
}

// WithPromptLogger は PromptBuilder にロガーを設定する
func WithPromptLogger(logger *slog.Logger) PromptBuilderOption {
	return func(b *PromptBuilder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewPromptBuilder は新しい PromptBuilder を作成する
func NewPromptBuilder(opts ...PromptBuilderOption) *PromptBuilder {
	b := &PromptBuilder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build は候補チャンク列からユーザープロンプトを組み立てる
// コンテキストにはスニペットではなくチャンク本文全体を使う
func (b *PromptBuilder) Build(question string, candidates []Candidate) string {
	selected := b.fitBudget(candidates)

	blocks := make([]string, 0, len(selected))
	for _, c := range selected {
		blocks = append(blocks, fmt.Sprintf("[Page %d]\n%s", c.Page, c.Text))
	}
	contextBlock := strings.Join(blocks, "\n\n")

	var sb strings.Builder
	sb.WriteString("You are a strict retrieval QA assistant. ")
	sb.WriteString("Answer only with facts present in the provided context. ")
	sb.WriteString("If the answer is not in the context, output exactly: ")
	sb.WriteString(NotFoundAnswer)
	sb.WriteString(".\n\n")
	sb.WriteString(fmt.Sprintf("Question: %s\n\nContext:\n%s", question, contextBlock))
	return sb.String()
}

// fitBudget はトークン上限に収まるまで末尾の候補を落とす
func (b *PromptBuilder) fitBudget(candidates []Candidate) []Candidate {
	if b.counter == nil || len(candidates) == 0 {
		return candidates
	}

	total := 0
	kept := 0
	for _, c := range candidates {
		total += b.counter.Count(c.Text)
		if kept > 0 && total > b.maxContextTokens {
			break
		}
		kept++
	}

	if kept < len(candidates) {
		b.logger.Warn("context truncated to fit token budget",
			"kept", kept,
			"retrieved", len(candidates),
			"maxContextTokens", b.maxContextTokens,
		)
	}
	return candidates[:kept]
}
