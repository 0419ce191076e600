package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for components under test. It writes to stdout
// so output lands in the test's stream; cleanup repoints it at stderr for
// goroutines that outlive the test.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[gameday-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
