package update

import "fmt"

// Error variables for specific error conditions.
var (
	ErrLockHeld       = fmt.Errorf("another process holds the update lock")
	ErrNetworkFailure = fmt.Errorf("network request failed")
	ErrInvalidVersion = fmt.Errorf("invalid version format")
	ErrNotPublished   = fmt.Errorf("package not found in registry")
)
