package app

import (
	"os"
	"sync"
)

// testModeEnv is set by the testing package imported from test binaries.
const testModeEnv = "ITDESK_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should skip network side effects and
// loggers should discard output. The flag is read once per process.
func InTestMode() bool {
	return testMode()
}
