package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanidx/internal/index"
)

func TestIndexingModel_ShowsSnapshot(t *testing.T) {
	// Given: a model without colors
	m := newIndexingModel("amanidx")
	m.styles = NoColorStyles()

	// When: a snapshot arrives
	m.Update(snapshotMsg(index.ProgressSnapshot{
		Status:          "indexing",
		Root:            "file:///src",
		Indexer:         "symbols",
		UnitsDone:       2,
		DocumentsStored: 40,
		LastError:       "symbols: ScanStarted panicked",
	}))

	// Then: the view shows it
	view := m.View()
	assert.Contains(t, view, "amanidx")
	assert.Contains(t, view, "file:///src")
	assert.Contains(t, view, "symbols")
	assert.Contains(t, view, "40")
	assert.Contains(t, view, "ScanStarted panicked")
}

func TestIndexingModel_TickSamplesRate(t *testing.T) {
	m := newIndexingModel("")
	m.Update(snapshotMsg(index.ProgressSnapshot{DocumentsStored: 10}))

	_, cmd := m.Update(tickMsg(time.Now()))

	assert.NotNil(t, cmd)
	assert.Equal(t, 10, m.lastDocs)
	assert.Equal(t, 1, m.rate.count)
}

func TestIndexingModel_CompleteQuits(t *testing.T) {
	m := newIndexingModel("")
	m.styles = NoColorStyles()

	_, cmd := m.Update(completeMsg(Summary{Roots: 1, Duration: 90 * time.Second}))

	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Indexing complete")
	assert.Contains(t, m.View(), "1m 30s")
}

func TestIndexingModel_QuitKey(t *testing.T) {
	m := newIndexingModel("")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "...6789", truncate("0123456789", 7))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "1h 5m", formatDuration(65*time.Minute))
}
