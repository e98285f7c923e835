package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncFailed wraps every repository failure raised while synchronizing a user.
	ErrSyncFailed = errors.New("user synchronization failed")

	// ErrConstraintViolation is returned when reconciliation would leave a user
	// without any group membership and empty memberships are not allowed.
	ErrConstraintViolation = errors.New("user would have no group memberships")

	// ErrRaceLost is returned when a concurrent login created the same user first.
	ErrRaceLost = errors.New("user was created by a concurrent login")
)

// syncFailed wraps err with ErrSyncFailed, keeping both matchable with errors.Is.
func syncFailed(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSyncFailed, operation, err)
}
