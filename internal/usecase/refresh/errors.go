package refresh

import "errors"

var (
	// ErrRefreshInProgress indicates a cycle for the resource is already running
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrCacheFresh indicates the cached set is younger than the refresh interval
	ErrCacheFresh = errors.New("cache is fresh")

	// ErrCancelled indicates the cycle's context ended before any source returned records
	ErrCancelled = errors.New("refresh cancelled")
)
