package watcher

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// bleve starts its analysis workers at init.
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}
