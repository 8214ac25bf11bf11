package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/book-rag/internal/core/chunk"
	"github.com/jinford/book-rag/internal/core/index"
)

// stubGenerations は固定の世代を返す GenerationSource 実装
type stubGenerations struct {
	gen *index.Generation
}

func (s *stubGenerations) Current() (*index.Generation, bool) {
	if s.gen == nil {
		return nil, false
	}
	return s.gen, true
}

type stubQueryEmbedder struct {
	vector []float32
	err    error
}

func (s *stubQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

// stubLLM は固定の回答を返し、呼び出し回数と受け取ったプロンプトを記録する
type stubLLM struct {
	answer string
	err    error
	calls  int
	system string
	user   string
}

func (s *stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	s.system = systemPrompt
	s.user = userPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

var (
	_ GenerationSource = (*stubGenerations)(nil)
	_ QueryEmbedder    = (*stubQueryEmbedder)(nil)
	_ CompletionClient = (*stubLLM)(nil)
)

// buildGeneration は2次元ベクトルのテスト用世代を組み立てる
func buildGeneration(t *testing.T, vectors [][]float32, records []chunk.Chunk) *index.Generation {
	t.Helper()
	idx, err := index.NewFlatIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(vectors))
	return &index.Generation{Index: idx, Records: records}
}

func TestConfidenceFromScore(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"完全一致", 1.0, 1.0},
		{"直交", 0.0, 0.5},
		{"反対方向", -1.0, 0.0},
		{"誤差で上振れ", 1.0000002, 1.0},
		{"誤差で下振れ", -1.0000002, 0.0},
		{"中間", 0.5, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, confidenceFromScore(tt.score), 1e-9)
		})
	}
}

func TestMakeSnippet(t *testing.T) {
	long := strings.Repeat("あ", 300)
	snippet := makeSnippet("  " + long)
	// ルーン単位で切り詰めるので壊れた文字は生まれない
	assert.LessOrEqual(t, len([]rune(snippet)), snippetLength)
	assert.NotContains(t, snippet, "�")

	assert.Equal(t, "short text", makeSnippet("  short text \n"))
}

func TestService_SearchWithoutIndex(t *testing.T) {
	svc := NewService(&stubGenerations{}, &stubQueryEmbedder{}, &stubLLM{})

	_, err := svc.Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	_, err = svc.Ask(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestService_SearchRanksAndMapsRecords(t *testing.T) {
	gen := buildGeneration(t,
		[][]float32{{0, 1}, {1, 0}, {0.9, 0.1}},
		[]chunk.Chunk{
			{Text: "orthogonal text", Page: 1},
			{Text: "exact match text", Page: 2},
			{Text: "near match text", Page: 3},
		},
	)
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{vector: []float32{1, 0}}, &stubLLM{})

	candidates, err := svc.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, 2, candidates[0].Page)
	assert.Equal(t, "exact match text", candidates[0].Text)
	assert.Equal(t, 3, candidates[1].Page)
	assert.Greater(t, candidates[0].Confidence, candidates[1].Confidence)
	assert.InDelta(t, 1.0, candidates[0].Confidence, 1e-6)
}

func TestService_SearchSkipsOutOfRangePositions(t *testing.T) {
	// ベクトルは3本あるがレコードは2件しかない破損寸前の状態
	gen := buildGeneration(t,
		[][]float32{{1, 0}, {0.9, 0.1}, {0.8, 0.2}},
		[]chunk.Chunk{
			{Text: "a", Page: 1},
			{Text: "b", Page: 2},
		},
	)
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{vector: []float32{1, 0}}, &stubLLM{})

	candidates, err := svc.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestService_AskBelowThresholdSkipsCompletion(t *testing.T) {
	// 直交ベクトルのみ → スコア0 → 確信度0.5
	gen := buildGeneration(t,
		[][]float32{{0, 1}},
		[]chunk.Chunk{{Text: "irrelevant", Page: 1}},
	)
	llm := &stubLLM{answer: "should never be used"}
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{vector: []float32{1, 0}}, llm,
		WithMinConfidence(0.9),
	)

	result, err := svc.Ask(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, result.Outcome)
	assert.Equal(t, NotFoundAnswer, result.Answer)
	assert.InDelta(t, 0.5, result.Confidence, 1e-6)
	assert.Empty(t, result.Sources)
	// 補完モデルは呼ばれない
	assert.Equal(t, 0, llm.calls)
}

func TestService_AskCompletionReturnsSentinel(t *testing.T) {
	gen := buildGeneration(t,
		[][]float32{{1, 0}},
		[]chunk.Chunk{{Text: "relevant but insufficient", Page: 4}},
	)
	// 前後の空白と大文字小文字の揺れも番兵として扱う
	llm := &stubLLM{answer: "  not found in the book \n"}
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{vector: []float32{1, 0}}, llm)

	result, err := svc.Ask(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, OutcomeNotFound, result.Outcome)
	assert.Equal(t, NotFoundAnswer, result.Answer)
	assert.InDelta(t, 1.0, result.Confidence, 1e-6)
	assert.Empty(t, result.Sources)
}

func TestService_AskAnswered(t *testing.T) {
	longText := strings.Repeat("word ", 100)
	gen := buildGeneration(t,
		[][]float32{{1, 0}, {0.95, 0.05}},
		[]chunk.Chunk{
			{Text: longText, Page: 7},
			{Text: "supporting passage", Page: 9},
		},
	)
	llm := &stubLLM{answer: "The protagonist is Ishmael."}
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{vector: []float32{1, 0}}, llm)

	result, err := svc.Ask(context.Background(), "Who is the protagonist?", 2)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, result.Outcome)
	assert.Equal(t, "The protagonist is Ishmael.", result.Answer)
	assert.InDelta(t, 1.0, result.Confidence, 1e-6)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, 7, result.Sources[0].Page)
	assert.Equal(t, 9, result.Sources[1].Page)
	assert.LessOrEqual(t, len([]rune(result.Sources[0].Snippet)), 220)

	// プロンプトには質問とコンテキストの両方が入る
	assert.Equal(t, SystemPrompt, llm.system)
	assert.Contains(t, llm.user, "Who is the protagonist?")
	assert.Contains(t, llm.user, "[Page 7]")
}

func TestService_AskCompletionFailure(t *testing.T) {
	gen := buildGeneration(t,
		[][]float32{{1, 0}},
		[]chunk.Chunk{{Text: "relevant", Page: 1}},
	)
	llm := &stubLLM{err: errors.New("provider unavailable")}
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{vector: []float32{1, 0}}, llm)

	_, err := svc.Ask(context.Background(), "q", 1)
	assert.ErrorContains(t, err, "failed to generate answer")
}

func TestService_AskEmbedFailure(t *testing.T) {
	gen := buildGeneration(t,
		[][]float32{{1, 0}},
		[]chunk.Chunk{{Text: "relevant", Page: 1}},
	)
	svc := NewService(&stubGenerations{gen: gen}, &stubQueryEmbedder{err: errors.New("rate limited")}, &stubLLM{})

	_, err := svc.Ask(context.Background(), "q", 1)
	assert.ErrorContains(t, err, "failed to embed question")
}
