// Package testutils provides shared test helpers: a captured logger and a
// JSON snapshot asserter for service-table contents.
package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

// TestHelper bundles a silenced logger whose entries are captured for
// assertions on diagnostics.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *logrustest.Hook
}

// NewTestHelper creates a test helper with a captured, non-printing logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // capture debug entries too
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// HasLogEntry reports whether any captured entry contains the given
// substring in its message.
func (h *TestHelper) HasLogEntry(substr string) bool {
	for _, entry := range h.Hook.AllEntries() {
		if strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}
