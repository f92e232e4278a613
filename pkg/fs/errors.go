package fs

import "fmt"

// InvalidHeaderError reports a partition header that cannot be trusted: unreadable,
// truncated, or describing regions outside the image.
type InvalidHeaderError struct {
	Slot int
	Err  error
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("partition %d: invalid NCCH header: %v", e.Slot, e.Err)
}

func (e *InvalidHeaderError) Unwrap() error { return e.Err }
