package present

import (
	"errors"
	"fmt"
)

var (
	// ErrSurfaceStale reports that the surface configuration no longer
	// matches the image pool. The caller must recreate the pool before
	// the next acquisition; the frame that observed it was dropped.
	ErrSurfaceStale = errors.New("present: surface configuration is stale")

	// ErrPresentStale is the presentation-time flavor of
	// ErrSurfaceStale: the image was rendered but the display engine
	// rejected it as out of date. Recoverable the same way.
	ErrPresentStale = errors.New("present: presented image is out of date")

	// ErrInvalidTransition reports a layout transition the protocol
	// never performs.
	ErrInvalidTransition = errors.New("present: unsupported layout transition")
)

// RecordingError wraps a failure while building a frame's command
// stream. The frame is dropped without submitting; the slot remains
// clean and the loop continues.
type RecordingError struct {
	Slot int
	Err  error
}

func (e *RecordingError) Error() string {
	return fmt.Sprintf("present: recording failed on slot %d: %v", e.Slot, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }
