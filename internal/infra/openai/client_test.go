package openai

import (
	"errors"
	"fmt"
	"testing"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionClient(t *testing.T) {
	t.Run("APIキー必須", func(t *testing.T) {
		_, err := NewCompletionClient("")
		assert.ErrorIs(t, err, ErrAPIKeyNotSet)
	})

	t.Run("デフォルトモデル", func(t *testing.T) {
		client, err := NewCompletionClient("test-api-key")
		require.NoError(t, err)
		assert.Equal(t, DefaultChatModel, client.ModelName())
	})

	t.Run("モデル上書き", func(t *testing.T) {
		client, err := NewCompletionClient("test-api-key", WithChatModel("gpt-4o"))
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", client.ModelName())
	})

	t.Run("空文字のモデル指定は無視", func(t *testing.T) {
		client, err := NewCompletionClient("test-api-key", WithChatModel(""))
		require.NoError(t, err)
		assert.Equal(t, DefaultChatModel, client.ModelName())
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"レート制限", &openaisdk.Error{StatusCode: 429}, true},
		{"サーバエラー", &openaisdk.Error{StatusCode: 500}, true},
		{"ゲートウェイタイムアウト", &openaisdk.Error{StatusCode: 504}, true},
		{"認証エラー", &openaisdk.Error{StatusCode: 401}, false},
		{"不正リクエスト", &openaisdk.Error{StatusCode: 400}, false},
		{"ラップされたAPIエラー", fmt.Errorf("call failed: %w", &openaisdk.Error{StatusCode: 429}), true},
		{"ネットワーク系", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
