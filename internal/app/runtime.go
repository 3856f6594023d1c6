package app

import (
	"os"
	"strconv"
)

// TestModeEnv disables runtime side effects of the binaries when true.
const TestModeEnv = "TINCO_TEST_MODE"

// InTestMode reports whether the binaries should exit before touching
// Postgres or Redis.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
