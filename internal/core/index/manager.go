package index

import (
	"errors"
	"sync/atomic"

	"github.com/jinford/book-rag/internal/core/chunk"
)

// Generation は1回のインジェストで生成された、内部整合のとれた
// インデックスとレコード列の対を表す
type Generation struct {
	Index   *FlatIndex
	Records []chunk.Chunk
}

// Manager は現行世代への参照を1つだけ保持する
// Reload が成功すると参照が原子的に差し替わり、
// 読み手は呼び出しごとに Current で一度だけ参照を取り出して使う
// （取り出した世代は差し替え後も単体で整合している）
type Manager struct {
	store     *Store
	expectDim int
	current   atomic.Pointer[Generation]
}

// NewManager は新しい Manager を作成する
// expectDim が正の場合、Reload 時に永続化された次元との一致を検証する
func NewManager(store *Store, expectDim int) *Manager {
	return &Manager{store: store, expectDim: expectDim}
}

// Store は背後の Store を返す
func (m *Manager) Store() *Store {
	return m.store
}

// Exists は永続化された世代が存在するかを返す
func (m *Manager) Exists() bool {
	return m.store.Exists()
}

// Reload は永続化された世代を読み込み、現行参照を差し替える
// 成果物が存在しない場合は現行参照をクリアして正常終了する
// 破損・次元不一致は読み込み失敗としてそのまま返す
func (m *Manager) Reload() error {
	idx, records, err := m.store.Load(m.expectDim)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.current.Store(nil)
			return nil
		}
		return err
	}
	m.current.Store(&Generation{Index: idx, Records: records})
	return nil
}

// Current は現行世代を返す
// 読み込まれた世代がない場合は ok=false を返す
func (m *Manager) Current() (*Generation, bool) {
	gen := m.current.Load()
	if gen == nil {
		return nil, false
	}
	return gen, true
}
