package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jinford/book-rag/internal/core/chunk"
)

const (
	indexFileName = "book.index"
	metaFileName  = "book_meta.jsonl"
	bookFileName  = "book.pdf"

	tempMetaSuffix = ".tmp.jsonl"
)

// インデックスファイルのバイナリヘッダ
const (
	indexFileMagic   = "BRIX"
	indexFileVersion = uint32(1)
)

var (
	// ErrInvalidInput は入力不正（ベクトル数とレコード数の不一致など）
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound はインデックスまたはメタデータが存在しない
	ErrNotFound = errors.New("index artifacts not found")

	// ErrCorrupted は永続化された2つの成果物の整合が取れていない
	// 過去の書き込みが途中で失敗した痕跡とみなす
	ErrCorrupted = errors.New("index artifacts are corrupted")

	// ErrModelMismatch は永続化されたベクトル次元が設定中のEmbeddingモデルと一致しない
	ErrModelMismatch = errors.New("persisted index dimension does not match configured embedding model")
)

// Store はベクトルインデックスとチャンクメタデータの2つの成果物を
// 同一ディレクトリ配下に対で永続化する
// records[i] が vectors[i] の生成元という位置対応を常に維持し、
// 置き換えは必ず世代単位（Replacement 経由）で行う
type Store struct {
	baseDir   string
	indexPath string
	metaPath  string
	bookPath  string
}

// NewStore はデータディレクトリを作成して Store を返す
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		baseDir:   baseDir,
		indexPath: filepath.Join(baseDir, indexFileName),
		metaPath:  filepath.Join(baseDir, metaFileName),
		bookPath:  filepath.Join(baseDir, bookFileName),
	}, nil
}

// BaseDir はデータディレクトリのパスを返す
func (s *Store) BaseDir() string {
	return s.baseDir
}

// BookPath は最後にインジェストした原本PDFの固定パスを返す
func (s *Store) BookPath() string {
	return s.bookPath
}

// Exists はインデックスとメタデータの両方が存在し読み取り可能な場合に true を返す
func (s *Store) Exists() bool {
	return isReadableFile(s.indexPath) && isReadableFile(s.metaPath)
}

// Build はベクトル列とレコード列から新しい世代を構築して永続化する
// len(vectors) == len(records) > 0 でなければ ErrInvalidInput を返す
func (s *Store) Build(vectors [][]float32, records []chunk.Chunk) error {
	if len(vectors) == 0 || len(records) == 0 || len(vectors) != len(records) {
		return fmt.Errorf("%w: vectors and records must be non-empty and have the same length (%d vs %d)",
			ErrInvalidInput, len(vectors), len(records))
	}

	idx, err := NewFlatIndex(len(vectors[0]))
	if err != nil {
		return err
	}
	if err := idx.Add(vectors); err != nil {
		return err
	}

	rep, err := s.Begin()
	if err != nil {
		return err
	}
	defer rep.Abort()

	if err := rep.Append(records); err != nil {
		return err
	}
	return rep.Commit(idx, "")
}

// Load は永続化された世代を読み込み、インデックスとレコード列の対を返す
// どちらかの成果物が欠けていれば ErrNotFound、
// ベクトル数とレコード数が食い違っていれば ErrCorrupted、
// expectDim が正でベクトル次元と一致しなければ ErrModelMismatch を返す
func (s *Store) Load(expectDim int) (*FlatIndex, []chunk.Chunk, error) {
	if !s.Exists() {
		return nil, nil, ErrNotFound
	}

	idx, err := readIndexFile(s.indexPath)
	if err != nil {
		return nil, nil, err
	}

	if expectDim > 0 && idx.Dimension() != expectDim {
		return nil, nil, fmt.Errorf("%w: persisted dimension %d, configured %d",
			ErrModelMismatch, idx.Dimension(), expectDim)
	}

	records, err := readMetaFile(s.metaPath)
	if err != nil {
		return nil, nil, err
	}

	if idx.Len() != len(records) {
		return nil, nil, fmt.Errorf("%w: %d vectors but %d records",
			ErrCorrupted, idx.Len(), len(records))
	}

	return idx, records, nil
}

// Begin は世代置き換えを開始し、一時メタデータファイルへの書き込み口を返す
func (s *Store) Begin() (*Replacement, error) {
	tmpPath := s.metaPath + tempMetaSuffix
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary metadata file: %w", err)
	}
	return &Replacement{
		store:   s,
		tmpPath: tmpPath,
		file:    file,
		writer:  bufio.NewWriter(file),
	}, nil
}

// Replacement は進行中の世代置き換えを表す
// レコードは一時ファイルに逐次追記され、Commit 成功時のみ
// インデックスファイルの書き込み→一時ファイルのリネームの順で公開される
// この順序により、並行する読み手は常に旧世代か新世代のどちらか完全な対だけを観測する
type Replacement struct {
	store   *Store
	tmpPath string
	file    *os.File
	writer  *bufio.Writer
	count   int
	done    bool
}

// Append はレコード列を一時メタデータファイルに1行1JSONで追記する
func (r *Replacement) Append(records []chunk.Chunk) error {
	if r.done {
		return fmt.Errorf("replacement already finished")
	}
	enc := json.NewEncoder(r.writer)
	for _, rec := range records {
		if rec.Page <= 0 {
			return fmt.Errorf("%w: record page must be positive, got %d", ErrInvalidInput, rec.Page)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write metadata record: %w", err)
		}
		r.count++
	}
	return nil
}

// Count は追記済みレコード数を返す
func (r *Replacement) Count() int {
	return r.count
}

// Commit は新しい世代を公開する
// idx のベクトル数と追記済みレコード数が一致しない場合は ErrInvalidInput を返し、何も公開しない
// sourcePDF が空でなければ原本を BookPath へコピーする
func (r *Replacement) Commit(idx *FlatIndex, sourcePDF string) error {
	if r.done {
		return fmt.Errorf("replacement already finished")
	}
	if idx == nil || idx.Len() == 0 || r.count == 0 {
		return fmt.Errorf("%w: nothing to commit", ErrInvalidInput)
	}
	if idx.Len() != r.count {
		return fmt.Errorf("%w: %d vectors but %d records", ErrInvalidInput, idx.Len(), r.count)
	}

	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush metadata: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close temporary metadata file: %w", err)
	}

	if err := writeIndexFile(r.store.indexPath, idx); err != nil {
		return err
	}

	// メタデータのリネームが世代切り替えのコミットポイント
	if err := os.Rename(r.tmpPath, r.store.metaPath); err != nil {
		return fmt.Errorf("failed to promote metadata file: %w", err)
	}
	r.done = true

	if sourcePDF != "" {
		if err := copyFile(sourcePDF, r.store.bookPath); err != nil {
			return fmt.Errorf("failed to copy source document: %w", err)
		}
	}
	return nil
}

// Abort は一時ファイルを破棄する
// Commit 済みの場合は何もしない（defer から常に呼べる）
func (r *Replacement) Abort() {
	if r.done {
		return
	}
	r.done = true
	_ = r.file.Close()
	_ = os.Remove(r.tmpPath)
}

func writeIndexFile(path string, idx *FlatIndex) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := w.WriteString(indexFileMagic); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}
	header := []uint32{indexFileVersion, uint32(idx.Dimension()), uint32(idx.Len())}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write index header: %w", err)
		}
	}
	for _, vec := range idx.vectors {
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("failed to write index vectors: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush index file: %w", err)
	}
	return file.Close()
}

func readIndexFile(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)

	magic := make([]byte, len(indexFileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: index header unreadable: %v", ErrCorrupted, err)
	}
	if string(magic) != indexFileMagic {
		return nil, fmt.Errorf("%w: unexpected index file magic %q", ErrCorrupted, magic)
	}

	var version, dim, count uint32
	for _, dst := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: index header unreadable: %v", ErrCorrupted, err)
		}
	}
	if version != indexFileVersion {
		return nil, fmt.Errorf("%w: unsupported index file version %d", ErrCorrupted, version)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%w: index file declares zero dimension", ErrCorrupted)
	}

	idx := &FlatIndex{dim: int(dim)}
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: index vectors truncated at %d/%d: %v", ErrCorrupted, i, count, err)
		}
		idx.vectors = append(idx.vectors, vec)
	}
	return idx, nil
}

func readMetaFile(path string) ([]chunk.Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer file.Close()

	var records []chunk.Chunk
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec chunk.Chunk
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: metadata line %d unparsable: %v", ErrCorrupted, len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	return records, nil
}

func isReadableFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
