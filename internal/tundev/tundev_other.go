//go:build !linux

package tundev

import "fmt"

// Open is unimplemented on this platform; skytund's data plane is
// Linux-only.
func Open() (Device, error) {
	return nil, fmt.Errorf("tundev: unsupported platform")
}
