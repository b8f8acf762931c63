package testutil

import (
	"testing"

	"boxes-go/internal/staging"
)

// DefaultStagingMaxSize is the budget of test staging areas (64MB).
const DefaultStagingMaxSize = 64 * 1024 * 1024

// NewTestArea creates a staging area rooted at root.
func NewTestArea(t *testing.T, root string) *staging.Area {
	t.Helper()
	area, err := staging.NewArea(root, DefaultStagingMaxSize)
	if err != nil {
		t.Fatalf("creating staging area: %v", err)
	}
	return area
}
