package netmetrics

import "iter"

// View is one consistent look at a backend's state. It is only valid for
// the duration of the Backend.View callback that received it.
type View interface {
	// Stats returns the four traffic counters.
	Stats() NetworkStats
	// Records yields the records of one backing list in traversal order.
	// For listening categories only LocalAddr and LocalPort are meaningful.
	Records(cat Category) iter.Seq[Connection]
}

// Backend supplies views of a network stack.
//
// View must hand fn a view that stays consistent for the whole callback and
// must release whatever it acquired (typically the stack's core lock) on
// every return path, including a panic in fn.
type Backend interface {
	Name() string
	View(fn func(View) error) error
}
