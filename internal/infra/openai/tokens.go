package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/book-rag/internal/core/retrieval"
)

// TokenCounter は cl100k_base エンコーディングでトークン数をカウントする
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しい TokenCounter を作成する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TokenCounter{encoding: encoding}, nil
}

// Count はテキストのトークン数を返す
func (tc *TokenCounter) Count(text string) int {
	if tc.encoding == nil {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// インターフェース実装の確認
var _ retrieval.TokenCounter = (*TokenCounter)(nil)
