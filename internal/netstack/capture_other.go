//go:build !linux

package netstack

import (
	"errors"
	"runtime"
)

// OpenInterface is only available on Linux; elsewhere replay a capture file.
func OpenInterface(name string) (Source, error) {
	return nil, errors.New("netstack: live capture is not supported on " + runtime.GOOS)
}
