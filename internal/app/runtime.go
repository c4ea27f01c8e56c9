package app

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

const testModeEnv = "TICKETS_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1" || testing.Testing())
}

// InTestMode reports whether binaries should skip runtime side effects:
// inside a test binary or when TICKETS_TEST_MODE=1.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}
