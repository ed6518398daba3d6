package symbols

import (
	"strings"
)

// Extract returns the declarations of tree in source order.
func Extract(tree *Tree) []Symbol {
	if tree == nil || tree.Root == nil {
		return []Symbol{}
	}
	lang, ok := DefaultLanguages().ByName(tree.Language)
	if !ok {
		return []Symbol{}
	}

	e := extractor{lang: lang, source: tree.Source, out: []Symbol{}}
	e.walk(tree.Root, false)
	return e.out
}

type extractor struct {
	lang   *Language
	source []byte
	out    []Symbol
}

// walk declares the symbols below n. Only class bodies are entered, so
// locals are never reported.
func (e *extractor) walk(n *Node, inClass bool) {
	if kind, ok := e.lang.Kinds[n.Type]; ok {
		if kind == KindFunction && inClass {
			kind = KindMethod
		}
		e.declare(n, kind)
		if kind != KindClass {
			return
		}
		inClass = true
	}
	for _, c := range n.Children {
		e.walk(c, inClass)
	}
}

// declare records the symbols declared by n. Grouped Go declarations
// and JS/TS declarator lists declare one symbol per name.
func (e *extractor) declare(n *Node, kind Kind) {
	switch n.Type {
	case "type_declaration":
		for _, s := range n.Children {
			if s.Type != "type_spec" && s.Type != "type_alias" {
				continue
			}
			if id := s.Child("type_identifier"); id != nil {
				e.add(n, s, kind, id.Content(e.source))
			}
		}
		return
	case "const_declaration", "var_declaration":
		spec := strings.Replace(n.Type, "_declaration", "_spec", 1)
		for _, s := range n.Children {
			if s.Type != spec {
				continue
			}
			for _, id := range s.Children {
				if id.Type == "identifier" {
					e.add(n, s, kind, id.Content(e.source))
				}
			}
		}
		return
	case "lexical_declaration", "variable_declaration":
		for _, d := range n.Children {
			if d.Type != "variable_declarator" {
				continue
			}
			id := d.Child("identifier")
			if id == nil {
				continue
			}
			k := kind
			if d.Child("arrow_function") != nil || d.Child("function") != nil || d.Child("function_expression") != nil {
				k = KindFunction
			}
			e.add(n, n, k, id.Content(e.source))
		}
		return
	}
	if name := e.name(n); name != "" {
		e.add(n, n, kind, name)
	}
}

func (e *extractor) name(n *Node) string {
	for _, t := range []string{"identifier", "field_identifier", "type_identifier", "property_identifier"} {
		if c := n.Child(t); c != nil {
			return c.Content(e.source)
		}
	}
	return ""
}

// add records a symbol named name. decl positions the symbol and its doc
// comment; sig is the node its signature is taken from.
func (e *extractor) add(decl, sig *Node, kind Kind, name string) {
	if name == "" {
		return
	}
	e.out = append(e.out, Symbol{
		Name:      name,
		Kind:      kind,
		StartLine: int(decl.StartRow) + 1,
		EndLine:   int(decl.EndRow) + 1,
		Signature: signature(sig.Content(e.source)),
		Doc:       e.doc(decl),
	})
}

// signature is the first line of a declaration, cut before the body.
func signature(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	line = strings.TrimSpace(line)
	if i := strings.Index(line, "{"); i > 0 {
		line = strings.TrimSpace(line[:i])
	}
	return line
}

// doc returns the line comment directly above n. Python documents with
// docstrings inside the body, which are not read.
func (e *extractor) doc(n *Node) string {
	if e.lang.Name == "python" || n.StartRow == 0 {
		return ""
	}
	lineStart := int(n.StartByte)
	for lineStart > 0 && e.source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart < 2 {
		return ""
	}
	prevEnd := lineStart - 1
	prevStart := prevEnd
	for prevStart > 0 && e.source[prevStart-1] != '\n' {
		prevStart--
	}
	prev := strings.TrimSpace(string(e.source[prevStart:prevEnd]))
	if text, ok := strings.CutPrefix(prev, "//"); ok {
		return strings.TrimSpace(text)
	}
	return ""
}
