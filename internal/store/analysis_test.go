package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func terms(input string) []string {
	var out []string
	for _, tok := range (codeTokenizer{}).Tokenize([]byte(input)) {
		out = append(out, string(tok.Term))
	}
	return out
}

func TestCodeTokenizer_SplitsIdentifiers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPServer", []string{"HTTP", "Server"}},
		{"parse_http_request", []string{"parse", "http", "request"}},
		{"a b cd", []string{"cd"}},
		{"func (s *Scheduler) Enqueue(item WorkItem)", []string{"func", "Scheduler", "Enqueue", "item", "Work", "Item"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, terms(tt.input))
		})
	}
}

func TestCodeTokenizer_OffsetsPointIntoInput(t *testing.T) {
	input := "x := newWorkQueue()"

	for _, tok := range (codeTokenizer{}).Tokenize([]byte(input)) {
		assert.Equal(t, string(tok.Term), input[tok.Start:tok.End])
	}
}
