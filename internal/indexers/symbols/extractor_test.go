package symbols

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named struct {
	name string
	kind Kind
}

func extract(t *testing.T, language, source string) []Symbol {
	t.Helper()
	p := NewParser()
	defer p.Close()
	tree, err := p.Parse(context.Background(), []byte(source), language)
	require.NoError(t, err)
	return Extract(tree)
}

func names(syms []Symbol) []named {
	out := make([]named, len(syms))
	for i, s := range syms {
		out[i] = named{s.Name, s.Kind}
	}
	return out
}

const goSource = `package demo

// Greeter says hello.
type Greeter struct{}

const (
	A = 1
	B = 2
)

var x, y int

// Hello greets.
func Hello(name string) string {
	local := 1
	_ = local
	return name
}

func (g *Greeter) Greet() {}
`

func TestExtract_Go(t *testing.T) {
	syms := extract(t, "go", goSource)

	assert.Equal(t, []named{
		{"Greeter", KindType},
		{"A", KindConstant},
		{"B", KindConstant},
		{"x", KindVariable},
		{"y", KindVariable},
		{"Hello", KindFunction},
		{"Greet", KindMethod},
	}, names(syms))

	greeter := syms[0]
	assert.Equal(t, 4, greeter.StartLine)
	assert.Equal(t, "Greeter says hello.", greeter.Doc)

	hello := syms[5]
	assert.Equal(t, "func Hello(name string) string", hello.Signature)
	assert.Equal(t, "Hello greets.", hello.Doc)
	assert.Equal(t, 14, hello.StartLine)
	assert.Equal(t, 18, hello.EndLine)

	assert.Equal(t, "func (g *Greeter) Greet()", syms[6].Signature)
}

func TestExtract_Python(t *testing.T) {
	syms := extract(t, "python", `class Shape:
    def area(self):
        return 0

@cache
def helper():
    def inner():
        pass
`)

	assert.Equal(t, []named{
		{"Shape", KindClass},
		{"area", KindMethod},
		{"helper", KindFunction},
	}, names(syms))
	assert.Equal(t, "class Shape:", syms[0].Signature)
}

func TestExtract_TypeScript(t *testing.T) {
	syms := extract(t, "typescript", `export interface Named {
  name: string
}

export class Box {
  open(): void {}
}

export const make = () => new Box();
type Id = string;
`)

	assert.Equal(t, []named{
		{"Named", KindInterface},
		{"Box", KindClass},
		{"open", KindMethod},
		{"make", KindFunction},
		{"Id", KindType},
	}, names(syms))
	assert.Equal(t, "class Box", syms[1].Signature)
}

func TestExtract_JavaScript(t *testing.T) {
	syms := extract(t, "javascript", `// Adds numbers.
function add(a, b) { return a + b }
const limit = 10;
`)

	assert.Equal(t, []named{{"add", KindFunction}, {"limit", KindConstant}}, names(syms))
	assert.Equal(t, "function add(a, b)", syms[0].Signature)
	assert.Equal(t, "Adds numbers.", syms[0].Doc)
}

func TestExtract_NilTreeIsEmpty(t *testing.T) {
	assert.Empty(t, Extract(nil))
	assert.NotNil(t, Extract(nil))
}

func TestParser_UnsupportedLanguage(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("x"), "cobol")
	assert.Error(t, err)
}

func TestLanguages_ByMime(t *testing.T) {
	langs := DefaultLanguages()

	lang, ok := langs.ByMime("text/x-go")
	require.True(t, ok)
	assert.Equal(t, "go", lang.Name)

	_, ok = langs.ByMime("text/plain")
	assert.False(t, ok)
	assert.Len(t, langs.Mimes(), 5)
}
