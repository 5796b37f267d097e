// Package testing flips binaries into test mode for any package that imports it.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

const testModeEnv = "CAMPUS_TEST_MODE"

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
