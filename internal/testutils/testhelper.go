//go:build test

package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles a *testing.T with a logger configured for verbose,
// human-readable output while tests run.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}
