package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const dryRunEnv = "BACKOFFICE_DRY_RUN"

var (
	dryRunFlag atomic.Bool
	dryRunOnce sync.Once
)

func detectDryRun() {
	dryRunFlag.Store(os.Getenv(dryRunEnv) == "1")
}

// DryRun reports whether binaries should exit before opening connections.
// CI sets it to smoke-test configuration loading.
func DryRun() bool {
	dryRunOnce.Do(detectDryRun)
	return dryRunFlag.Load()
}

// RefreshDryRun re-reads the flag after environment changes.
func RefreshDryRun() {
	detectDryRun()
}
