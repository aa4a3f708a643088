package testing

import (
	"testing"

	"github.com/arloliu/leasefeed/internal/logging"
	"github.com/arloliu/leasefeed/types"
)

// NewTestLogger creates a logger that writes to the test log.
// This is useful for seeing controller and processor output during test runs.
func NewTestLogger(tb testing.TB) types.Logger {
	return logging.NewTest(tb)
}
