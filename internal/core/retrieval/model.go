package retrieval

import (
	"errors"
	"strings"
)

// NotFoundAnswer は根拠が見つからない場合に返す固定の回答文
// 取得側のゲートと補完モデルへの指示の両方でこの文字列を使う
const NotFoundAnswer = "Not found in the book"

// snippetLength はソース表示用スニペットの最大文字数
const snippetLength = 220

// ErrIndexUnavailable はインデックスが読み込まれていない状態で
// 検索・質問応答が要求された
// 確信度不足による「見つからない」回答とは区別されるエラーである
var ErrIndexUnavailable = errors.New("no indexed book is loaded")

// Outcome は質問応答の結果種別
// システム障害は error として返るため、ここには現れない
type Outcome string

const (
	// OutcomeAnswered はコンテキストに根拠のある回答を返した
	OutcomeAnswered Outcome = "answered"

	// OutcomeNotFound は書籍内に根拠が見つからなかった
	// （確信度ゲートで弾かれたか、補完モデルが不在と判断した）
	OutcomeNotFound Outcome = "not_found"
)

// Candidate は検索で得られた1件の候補
type Candidate struct {
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
	Snippet    string  `json:"snippet"`
}

// Source は回答の根拠として提示するソース参照
type Source struct {
	Page       int     `json:"page"`
	Confidence float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// Result は質問応答の結果
type Result struct {
	Outcome    Outcome  `json:"outcome"`
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
}

// notFoundResult は根拠なしの結果を組み立てる
func notFoundResult(confidence float64) *Result {
	return &Result{
		Outcome:    OutcomeNotFound,
		Answer:     NotFoundAnswer,
		Confidence: confidence,
		Sources:    []Source{},
	}
}

// makeSnippet はチャンク本文から表示用スニペットを切り出す
func makeSnippet(text string) string {
	runes := []rune(text)
	if len(runes) > snippetLength {
		text = string(runes[:snippetLength])
	}
	return strings.TrimSpace(text)
}

// confidenceFromScore はコサイン類似度 [-1,1] を確信度 [0,1] に線形写像する
// 浮動小数の誤差で範囲を外れた値もクランプする
// 学習済みのキャリブレーションではなく、単調なゲート用ヒューリスティック
func confidenceFromScore(score float64) float64 {
	c := (score + 1.0) / 2.0
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
