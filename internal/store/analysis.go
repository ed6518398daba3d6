package store

import (
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CodeTokenizerName is the bleve name of the code-aware tokenizer.
	CodeTokenizerName = "amanidx_code"

	// CodeAnalyzerName is the default analyzer of every index.
	CodeAnalyzerName = "amanidx_code_analyzer"

	minTokenLen = 2
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
}

// codeTokenizer splits identifiers at snake_case and camelCase boundaries
// while keeping byte offsets of every token.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	var stream analysis.TokenStream
	pos := 1
	emit := func(start, end int) {
		if end-start < minTokenLen {
			return
		}
		stream = append(stream, &analysis.Token{
			Term:     append([]byte(nil), input[start:end]...),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
	}

	start := -1
	var prev rune
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		word := unicode.IsLetter(r) || unicode.IsDigit(r)

		switch {
		case !word:
			if start >= 0 {
				emit(start, i)
				start = -1
			}
		case start < 0:
			start = i
		case splitsBefore(prev, r, input[i+size:]):
			emit(start, i)
			start = i
		}
		prev = r
		i += size
	}
	if start >= 0 {
		emit(start, len(input))
	}
	return stream
}

// splitsBefore reports whether a camelCase boundary falls between prev
// and r: "getUser" splits before U, "HTTPServer" splits before S.
func splitsBefore(prev, r rune, rest []byte) bool {
	if !unicode.IsUpper(r) {
		return false
	}
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	if unicode.IsUpper(prev) && len(rest) > 0 {
		next, _ := utf8.DecodeRune(rest)
		return unicode.IsLower(next)
	}
	return false
}
