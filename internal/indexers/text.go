package indexers

import (
	"bytes"
	"iter"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// TextName is the name of the full-text factory.
const TextName = "text"

// Text document fields.
const (
	FieldPath    = "path"
	FieldMime    = "mime"
	FieldContent = "content"
	FieldLines   = "lines"
)

// TextFactory indexes the content of every file as one document.
type TextFactory struct {
	indexer.BaseFactory
	logger *slog.Logger
}

// NewTextFactory creates the text factory.
func NewTextFactory(logger *slog.Logger) *TextFactory {
	return &TextFactory{logger: logging.OrDefault(logger)}
}

func (f *TextFactory) Name() string        { return TextName }
func (f *TextFactory) Version() int        { return 1 }
func (f *TextFactory) MimeTypes() []string { return []string{indexer.MimeAny} }

// CreateIndexer returns an indexer that skips files that are not UTF-8.
func (f *TextFactory) CreateIndexer() indexer.Indexer {
	return indexer.IndexerFunc(func(files iter.Seq[indexer.Indexable], ctx indexer.Context) error {
		for it := range files {
			if err := ctx.Context().Err(); err != nil {
				return err
			}
			body, err := it.ReadAll()
			if err != nil {
				f.logger.Warn("skipping unreadable file",
					slog.String("path", it.RelativePath),
					slog.String("error", err.Error()))
				continue
			}
			if !utf8.Valid(body) {
				f.logger.Debug("skipping non UTF-8 file", slog.String("path", it.RelativePath))
				continue
			}
			doc := indexer.NewDocument(it.PrimaryKey()).
				Add(FieldPath, it.RelativePath, true, true).
				Add(FieldMime, it.MimeType, true, false).
				Add(FieldContent, string(body), false, true).
				Add(FieldLines, strconv.Itoa(lineCount(body)), true, false)
			if err := ctx.AddDocument(doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func lineCount(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	n := bytes.Count(body, []byte{'\n'})
	if body[len(body)-1] != '\n' {
		n++
	}
	return n
}
