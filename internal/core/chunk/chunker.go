package chunk

import (
	"iter"
	"strings"
)

// DefaultSizeWords はチャンクあたりのデフォルト最大単語数
const DefaultSizeWords = 500

// Chunk は1ページのテキストから切り出した断片を表す
// Text は空白区切りの単語を元の順序のままスペース1つで連結したもの
type Chunk struct {
	Text string `json:"text"`
	Page int    `json:"page"`
}

// SplitWords はテキストを空白区切りの単語列に分割する
func SplitWords(text string) []string {
	return strings.Fields(text)
}

// SplitPage はページのテキストを最大 sizeWords 語ずつのチャンク列として返す
// 返り値は遅延評価のシーケンスで、何度でも先頭から走査できる
// 空ページ（空白のみを含む場合も同様）は空のシーケンスになる
// チャンクはページをまたがず、単語の欠落・重複・並び替えは起こらない
func SplitPage(pageText string, pageNumber int, sizeWords int) iter.Seq[Chunk] {
	if sizeWords <= 0 {
		sizeWords = DefaultSizeWords
	}

	return func(yield func(Chunk) bool) {
		words := SplitWords(pageText)
		for start := 0; start < len(words); start += sizeWords {
			end := min(start+sizeWords, len(words))
			c := Chunk{
				Text: strings.Join(words[start:end], " "),
				Page: pageNumber,
			}
			if !yield(c) {
				return
			}
		}
	}
}
