package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/pkg/version"
)

func TestVersionCmd_DefaultOutput(t *testing.T) {
	// Given: a version command
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	// When: executing without flags
	err := cmd.Execute()

	// Then: build info and indexer versions are printed
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "amanidx "+version.Version)
	assert.Contains(t, output, "commit")
	assert.Contains(t, output, "indexers: symbols v2, text v1")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--short"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(buf.String()))
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	// Given: a version command with --json
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	// When: executing
	err := cmd.Execute()

	// Then: build fields and indexers are present
	require.NoError(t, err)
	var info struct {
		Version   string           `json:"version"`
		Commit    string           `json:"commit"`
		GoVersion string           `json:"go_version"`
		OS        string           `json:"os"`
		Indexers  []version.Component `json:"indexers"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
	assert.Equal(t, []version.Component{{Name: "symbols", Version: 2}, {Name: "text", Version: 1}}, info.Indexers)
}
