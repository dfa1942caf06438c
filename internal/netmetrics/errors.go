package netmetrics

import "errors"

var (
	// ErrBadParameter reports a caller contract violation. It is returned
	// before the backend is touched, so no output has been written.
	ErrBadParameter = errors.New("netmetrics: bad parameter")

	// ErrCollectionFailed reports that the backend could not produce a view.
	// The backend's own error is wrapped alongside it.
	ErrCollectionFailed = errors.New("netmetrics: collection failed")
)
