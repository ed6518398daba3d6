package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// IndexStatus describes one index of one root.
type IndexStatus struct {
	Indexer   string `json:"indexer"`
	Version   int    `json:"version"`
	Documents uint64 `json:"documents"`
	SizeBytes int64  `json:"size_bytes"`
	// State is "ready", "stale" (index present, last pass not clean),
	// "missing" or "error".
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// RootStatus describes a root and its indices.
type RootStatus struct {
	Root         string        `json:"root"`
	Kind         string        `json:"kind"`
	LastModified time.Time     `json:"last_modified,omitzero"`
	Indexes      []IndexStatus `json:"indexes"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor || DetectNoColor())}
}

// Render displays the roots to the terminal.
func (r *StatusRenderer) Render(roots []RootStatus) error {
	if len(roots) == 0 {
		_, err := fmt.Fprintln(r.out, "No indexed roots.")
		return err
	}
	for _, root := range roots {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Header.Render(root.Root), r.styles.Dim.Render("("+root.Kind+")"))
		if !root.LastModified.IsZero() {
			_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(root.LastModified))
		}
		for _, ix := range root.Indexes {
			_, _ = fmt.Fprintf(r.out, "  %-10s v%-3d %-8s %8d docs  %s\n",
				ix.Indexer, ix.Version, r.renderState(ix.State), ix.Documents, FormatBytes(ix.SizeBytes))
			if ix.Error != "" {
				_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Error.Render(ix.Error))
			}
		}
		_, _ = fmt.Fprintln(r.out)
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(roots []RootStatus) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(roots)
}

// renderState formats a state with color.
func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "ready":
		return r.styles.Success.Render(state)
	case "stale", "missing":
		return r.styles.Warning.Render(state)
	case "error":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
