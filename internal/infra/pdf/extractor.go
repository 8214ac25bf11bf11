package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jinford/book-rag/internal/core/ingestion"
)

// Opener はローカルのPDFファイルを開く
type Opener struct{}

// NewOpener は新しい Opener を作成する
func NewOpener() *Opener {
	return &Opener{}
}

// Open はPDFを開いて ingestion.Document として返す
func (o *Opener) Open(path string) (ingestion.Document, error) {
	if !IsPDFPath(path) {
		return nil, fmt.Errorf("not a PDF file: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("document not found: %w", err)
	}

	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &document{file: file, reader: reader}, nil
}

// IsPDFPath は拡張子が .pdf かどうかを返す
func IsPDFPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// document は読み取り中のPDFファイル
type document struct {
	file   *os.File
	reader *pdf.Reader
}

// PageCount は総ページ数を返す
func (d *document) PageCount() int {
	return d.reader.NumPage()
}

// PageText は1始まりのページ番号のテキストを返す
// テキストを持たないページは空文字列を返す（エラーにはしない）
func (d *document) PageText(page int) (string, error) {
	p := d.reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", page, err)
	}
	return text, nil
}

// Close はPDFファイルを閉じる
func (d *document) Close() error {
	return d.file.Close()
}

// インターフェース実装の確認
var _ ingestion.DocumentOpener = (*Opener)(nil)
