package engine

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// ErrStaleSnapshot marks a recomputation that failed after its fact was committed.
var ErrStaleSnapshot = errors.New("stale snapshot")

// StaleSnapshotError reports that the stored snapshot of UserID no longer reflects its
// facts. The triggering fact write is durable; the error is a warning, not a failure.
type StaleSnapshotError struct {
	UserID   string
	Category store.Category
	Err      error
}

func (e *StaleSnapshotError) Error() string {
	return fmt.Sprintf("snapshot for %s is stale after %s change: %v", e.UserID, e.Category, e.Err)
}

func (e *StaleSnapshotError) Unwrap() []error {
	return []error{ErrStaleSnapshot, e.Err}
}

// AsStale extracts a *StaleSnapshotError from err.
func AsStale(err error) (*StaleSnapshotError, bool) {
	var s *StaleSnapshotError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
