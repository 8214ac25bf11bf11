package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/book-rag/internal/core/chunk"
)

func testRecords(texts []string) []chunk.Chunk {
	records := make([]chunk.Chunk, len(texts))
	for i, text := range texts {
		records[i] = chunk.Chunk{Text: text, Page: i + 1}
	}
	return records
}

func TestStore_BuildAndLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	records := testRecords([]string{"alpha", "beta", "gamma"})

	assert.False(t, store.Exists())
	require.NoError(t, store.Build(vectors, records))
	assert.True(t, store.Exists())

	idx, loaded, err := store.Load(3)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Dimension())
	assert.Equal(t, 3, idx.Len())
	// レコードは挿入順のまま (text, page) が一致する
	assert.Equal(t, records, loaded)

	hits, err := idx.Search([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Position)
}

func TestStore_BuildValidatesInput(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name    string
		vectors [][]float32
		records []chunk.Chunk
	}{
		{"空の入力", nil, nil},
		{"ベクトルのみ", [][]float32{{1, 0}}, nil},
		{"件数不一致", [][]float32{{1, 0}}, testRecords([]string{"a", "b"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Build(tt.vectors, tt.records)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.False(t, store.Exists())
		})
	}
}

func TestStore_LoadMissingArtifacts(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Load(0)
	assert.ErrorIs(t, err, ErrNotFound)

	// 片方だけ存在する場合も NotFound
	require.NoError(t, store.Build([][]float32{{1, 0}}, testRecords([]string{"a"})))
	require.NoError(t, os.Remove(filepath.Join(store.BaseDir(), metaFileName)))
	_, _, err = store.Load(0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadDetectsLengthMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Build([][]float32{{1, 0}, {0, 1}}, testRecords([]string{"a", "b"})))

	// メタデータを1行だけに切り詰めて過去の部分書き込みを再現する
	require.NoError(t, os.WriteFile(
		filepath.Join(store.BaseDir(), metaFileName),
		[]byte(`{"text":"a","page":1}`+"\n"),
		0o644,
	))

	_, _, err = store.Load(0)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestStore_LoadDetectsDimensionMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Build([][]float32{{1, 0, 0}}, testRecords([]string{"a"})))

	_, _, err = store.Load(1536)
	assert.ErrorIs(t, err, ErrModelMismatch)

	// expectDim=0 は次元検証をスキップする
	_, _, err = store.Load(0)
	assert.NoError(t, err)
}

func TestStore_LoadDetectsGarbageIndexFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Build([][]float32{{1, 0}}, testRecords([]string{"a"})))

	require.NoError(t, os.WriteFile(
		filepath.Join(store.BaseDir(), indexFileName),
		[]byte("definitely not an index"),
		0o644,
	))

	_, _, err = store.Load(0)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestStore_RebuildReplacesPreviousGeneration(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Build(
		[][]float32{{1, 0}, {0, 1}},
		testRecords([]string{"old-a", "old-b"}),
	))
	require.NoError(t, store.Build(
		[][]float32{{1, 1}},
		testRecords([]string{"new"}),
	))

	idx, records, err := store.Load(2)
	require.NoError(t, err)
	// 2回目の内容のみが見える（マージは起こらない）
	assert.Equal(t, 1, idx.Len())
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Text)
}

func TestReplacement_AbortKeepsPreviousGeneration(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Build([][]float32{{1, 0}}, testRecords([]string{"kept"})))

	rep, err := store.Begin()
	require.NoError(t, err)
	require.NoError(t, rep.Append(testRecords([]string{"discarded-1", "discarded-2"})))
	rep.Abort()

	// 一時ファイルは残らない
	entries, err := os.ReadDir(store.BaseDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}

	_, records, err := store.Load(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].Text)
}

func TestReplacement_CommitRejectsCountMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rep, err := store.Begin()
	require.NoError(t, err)
	require.NoError(t, rep.Append(testRecords([]string{"a", "b"})))

	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0}}))

	err = rep.Commit(idx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	rep.Abort()
	assert.False(t, store.Exists())
}

func TestReplacement_CommitCopiesSourceDocument(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	srcPath := filepath.Join(t.TempDir(), "source.pdf")
	require.NoError(t, os.WriteFile(srcPath, []byte("%PDF-1.7 fake"), 0o644))

	rep, err := store.Begin()
	require.NoError(t, err)
	require.NoError(t, rep.Append(testRecords([]string{"a"})))

	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0}}))
	require.NoError(t, rep.Commit(idx, srcPath))

	copied, err := os.ReadFile(store.BookPath())
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), copied)
}

func TestManager_ReloadAndCurrent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	manager := NewManager(store, 2)

	// 成果物がない間は現行世代なし
	require.NoError(t, manager.Reload())
	_, ok := manager.Current()
	assert.False(t, ok)
	assert.False(t, manager.Exists())

	require.NoError(t, store.Build([][]float32{{1, 0}}, testRecords([]string{"a"})))
	require.NoError(t, manager.Reload())

	gen, ok := manager.Current()
	require.True(t, ok)
	assert.Equal(t, 1, gen.Index.Len())
	require.Len(t, gen.Records, 1)
	assert.Equal(t, "a", gen.Records[0].Text)
}

func TestManager_ReloadPropagatesDimensionMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Build([][]float32{{1, 0, 0}}, testRecords([]string{"a"})))

	manager := NewManager(store, 8)
	err = manager.Reload()
	assert.ErrorIs(t, err, ErrModelMismatch)
}
