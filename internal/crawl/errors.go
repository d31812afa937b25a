package crawl

import "errors"

// ErrNotFound reports a missing job, page, or frontier entry. Store
// implementations wrap it so callers can branch without knowing the
// backend.
var ErrNotFound = errors.New("not found")

// ErrJobSettled reports an attempt to move a job out of a terminal
// status. Stores refuse the write so a late progress update can never
// resurrect a cancelled or completed job.
var ErrJobSettled = errors.New("job already settled")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
