package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCmd_StopsOnCancel(t *testing.T) {
	// Given: a watched project
	newTestEnv(t)
	dir := writeProject(t, map[string]string{"main.go": mainGo})

	cmd := NewRootCmd()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"watch", dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching 1 roots")
	}, 10*time.Second, 20*time.Millisecond)

	// When: the context is cancelled
	cancel()

	// Then: the command returns without error
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, out.String(), "Complete: 1 roots")
}

func TestWatchCmd_MissingPathFails(t *testing.T) {
	newTestEnv(t)

	_, err := execute(t, "watch", filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}
