package index

import (
	"fmt"
	"math"
	"sort"
)

// FlatIndex は全件走査の内積類似度インデックス
// 格納前にベクトルをL2正規化するため、内積はコサイン類似度と一致する
// 近似索引は使わず、1冊の書籍規模（高々数万チャンク）で決定的な再現率を優先する
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// Hit は検索結果の1件（格納位置と類似度スコア）
type Hit struct {
	Position int
	Score    float32
}

// NewFlatIndex は次元数 dim の空のインデックスを作成する
func NewFlatIndex(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidInput, dim)
	}
	return &FlatIndex{dim: dim}, nil
}

// Dimension はベクトルの次元数を返す
func (x *FlatIndex) Dimension() int {
	return x.dim
}

// Len は格納済みベクトル数を返す
func (x *FlatIndex) Len() int {
	return len(x.vectors)
}

// Add はベクトル列をL2正規化して末尾に追加する
// 次元が一致しないベクトルが含まれる場合は何も追加せずエラーを返す
func (x *FlatIndex) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, index expects %d", ErrInvalidInput, i, len(v), x.dim)
		}
	}

	for _, v := range vectors {
		normalized := make([]float32, len(v))
		copy(normalized, v)
		Normalize(normalized)
		x.vectors = append(x.vectors, normalized)
	}

	return nil
}

// Search はクエリベクトルとの類似度上位 k 件を降順で返す
// クエリは内部でL2正規化される
// k が格納数を超える場合は格納数分だけ返す
func (x *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d", ErrInvalidInput, len(query), x.dim)
	}
	if k <= 0 || x.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	Normalize(normalized)

	hits := make([]Hit, 0, x.Len())
	for i, v := range x.vectors {
		hits = append(hits, Hit{Position: i, Score: dot(normalized, v)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Normalize はベクトルをインプレースでL2正規化する
// ゼロベクトルはそのまま残す
func Normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
