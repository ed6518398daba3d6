package symbols

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/Aman-CERP/amanidx/internal/scanner"
)

// Language describes how declarations look in one grammar.
type Language struct {
	Name string
	Mime string
	// Kinds maps declaration node types to symbol kinds.
	Kinds   map[string]Kind
	grammar *sitter.Language
}

// Languages is a fixed set of languages, looked up by name or mime type.
type Languages struct {
	byName map[string]*Language
	byMime map[string]*Language
}

func newLanguages(langs ...*Language) *Languages {
	l := &Languages{byName: make(map[string]*Language), byMime: make(map[string]*Language)}
	for _, lang := range langs {
		l.byName[lang.Name] = lang
		l.byMime[lang.Mime] = lang
	}
	return l
}

// ByName returns the language called name.
func (l *Languages) ByName(name string) (*Language, bool) {
	lang, ok := l.byName[name]
	return lang, ok
}

// ByMime returns the language of files with the mime type.
func (l *Languages) ByMime(mime string) (*Language, bool) {
	lang, ok := l.byMime[mime]
	return lang, ok
}

// Mimes returns every supported mime type, sorted.
func (l *Languages) Mimes() []string {
	out := make([]string, 0, len(l.byMime))
	for m := range l.byMime {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

var goKinds = map[string]Kind{
	"function_declaration": KindFunction,
	"method_declaration":   KindMethod,
	"type_declaration":     KindType,
	"const_declaration":    KindConstant,
	"var_declaration":      KindVariable,
}

var typeScriptKinds = map[string]Kind{
	"function_declaration":   KindFunction,
	"method_definition":      KindMethod,
	"class_declaration":      KindClass,
	"interface_declaration":  KindInterface,
	"type_alias_declaration": KindType,
	"lexical_declaration":    KindConstant,
	"variable_declaration":   KindVariable,
}

var javaScriptKinds = map[string]Kind{
	"function_declaration": KindFunction,
	"method_definition":    KindMethod,
	"class_declaration":    KindClass,
	"lexical_declaration":  KindConstant,
	"variable_declaration": KindVariable,
}

// Python methods are function_definition nodes inside a class; the
// extractor tells them apart.
var pythonKinds = map[string]Kind{
	"function_definition": KindFunction,
	"class_definition":    KindClass,
}

var defaultLanguages = newLanguages(
	&Language{Name: "go", Mime: scanner.MimeGo, Kinds: goKinds, grammar: golang.GetLanguage()},
	&Language{Name: "typescript", Mime: scanner.MimeTypeScript, Kinds: typeScriptKinds, grammar: typescript.GetLanguage()},
	&Language{Name: "tsx", Mime: scanner.MimeTSX, Kinds: typeScriptKinds, grammar: tsx.GetLanguage()},
	&Language{Name: "javascript", Mime: scanner.MimeJavaScript, Kinds: javaScriptKinds, grammar: javascript.GetLanguage()},
	&Language{Name: "python", Mime: scanner.MimePython, Kinds: pythonKinds, grammar: python.GetLanguage()},
)

// DefaultLanguages returns Go, TypeScript, TSX, JavaScript and Python.
func DefaultLanguages() *Languages {
	return defaultLanguages
}
