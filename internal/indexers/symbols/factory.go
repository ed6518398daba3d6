// Package symbols indexes the declarations of Go, JavaScript, TypeScript
// and Python files, parsed with tree-sitter. Every declaration becomes one
// document under the primary key of its file.
package symbols

import (
	"iter"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// Name is the factory name.
const Name = "symbols"

// Document fields.
const (
	FieldPath      = "path"
	FieldName      = "name"
	FieldKind      = "kind"
	FieldSignature = "signature"
	FieldDoc       = "doc"
	FieldLine      = "line"
)

// Factory creates symbol indexers.
type Factory struct {
	indexer.BaseFactory
	logger *slog.Logger
}

// NewFactory creates the symbols factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logging.OrDefault(logger)}
}

func (f *Factory) Name() string { return Name }

func (f *Factory) Version() int { return 2 }

func (f *Factory) MimeTypes() []string { return DefaultLanguages().Mimes() }

// CreateIndexer returns an indexer owning its own parser.
func (f *Factory) CreateIndexer() indexer.Indexer {
	return indexer.IndexerFunc(func(files iter.Seq[indexer.Indexable], ctx indexer.Context) error {
		p := NewParser()
		defer p.Close()

		for it := range files {
			if err := ctx.Context().Err(); err != nil {
				return err
			}
			lang, ok := DefaultLanguages().ByMime(it.MimeType)
			if !ok {
				continue
			}
			source, err := it.ReadAll()
			if err != nil {
				f.logger.Warn("skipping unreadable file",
					slog.String("path", it.RelativePath),
					slog.String("error", err.Error()))
				continue
			}
			tree, err := p.Parse(ctx.Context(), source, lang.Name)
			if err != nil {
				f.logger.Warn("skipping unparsable file",
					slog.String("path", it.RelativePath),
					slog.String("error", err.Error()))
				continue
			}
			for _, sym := range Extract(tree) {
				doc := indexer.NewDocument(it.PrimaryKey()).
					Add(FieldPath, it.RelativePath, true, true).
					Add(FieldName, sym.Name, true, true).
					Add(FieldKind, string(sym.Kind), true, true).
					Add(FieldSignature, sym.Signature, true, true).
					Add(FieldLine, strconv.Itoa(sym.StartLine), true, false)
				if sym.Doc != "" {
					doc.Add(FieldDoc, sym.Doc, true, true)
				}
				if err := ctx.AddDocument(doc); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
