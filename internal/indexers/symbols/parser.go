package symbols

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps a tree-sitter parser. It is not safe for concurrent use.
type Parser struct {
	parser    *sitter.Parser
	languages *Languages
}

// NewParser creates a parser over the default languages.
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser(), languages: DefaultLanguages()}
}

// Parse parses source as language.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	lang, ok := p.languages.ByName(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	p.parser.SetLanguage(lang.grammar)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}

	return &Tree{Root: detach(tsTree.RootNode()), Source: source, Language: language}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func detach(n *sitter.Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Type:      n.Type(),
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
		StartRow:  n.StartPoint().Row,
		EndRow:    n.EndPoint().Row,
		HasError:  n.HasError(),
		Children:  make([]*Node, 0, int(n.ChildCount())),
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			out.Children = append(out.Children, detach(c))
		}
	}
	return out
}
