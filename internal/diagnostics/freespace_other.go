//go:build !(linux || darwin || freebsd)

package diagnostics

import (
	"errors"
)

var errFreeSpaceUnsupported = errors.New("free space not supported on this platform")

// FreeSpace is not available on this platform.
func FreeSpace(_ string) (uint64, error) {
	return 0, errFreeSpaceUnsupported
}
