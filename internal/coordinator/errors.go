package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches every FetchFailedError.
	ErrFetchFailed = errors.New("coordinator: fetch failed")

	// ErrNoData indicates a state update before the first successful poll.
	ErrNoData = errors.New("coordinator: no device data yet")

	// ErrClosed indicates use after Shutdown.
	ErrClosed = errors.New("coordinator: shut down")

	// ErrNotReady is returned by Start when the first refresh fails.
	ErrNotReady = errors.New("coordinator: device not ready")
)

// FetchFailedError reports a failed poll cycle. The cause is one of the
// boneco errors or a context error.
type FetchFailedError struct {
	Address string
	Err     error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("unable to fetch data from %s: %v", e.Address, e.Err)
}

// Unwrap returns the cause.
func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// Is matches ErrFetchFailed.
func (e *FetchFailedError) Is(target error) bool {
	return target == ErrFetchFailed
}
