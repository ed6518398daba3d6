package ui

import "strings"

// Sparkline renders recent samples with Unicode block characters.
type Sparkline struct {
	samples []float64 // ring buffer
	head    int
	count   int
}

// SparklineChars are the eight bar heights, lowest first.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline creates a sparkline of width bars.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add appends a sample, dropping the oldest once the line is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Render returns the bars from oldest to newest, scaled to the largest
// visible sample. Unfilled positions are blank.
func (s *Sparkline) Render() string {
	width := len(s.samples)
	n := min(s.count, width)
	start := 0
	if s.count >= width {
		start = s.head
	}

	peak := 0.0
	for i := range n {
		peak = max(peak, s.samples[(start+i)%width])
	}

	var sb strings.Builder
	for i := range width {
		if i >= n {
			sb.WriteRune(' ')
			continue
		}
		level := 0
		if peak > 0 {
			level = int(s.samples[(start+i)%width] / peak * float64(len(SparklineChars)-1))
		}
		level = max(0, min(level, len(SparklineChars)-1))
		sb.WriteRune(SparklineChars[level])
	}
	return sb.String()
}
