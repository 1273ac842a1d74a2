//go:build linux

package tundev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open creates and configures a Linux TUN device, named skytun0, in
// non-blocking IFF_TUN|IFF_NO_PI mode.
func Open() (Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: open /dev/net/tun: %w", err)
	}

	const name = "skytun0"
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tundev: interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tundev: TUNSETIFF: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tundev: set nonblocking: %w", err)
	}

	return &linuxDevice{file: os.NewFile(uintptr(fd), "/dev/net/tun"), name: name}, nil
}

type linuxDevice struct {
	file *os.File
	name string
}

func (d *linuxDevice) Read(buf []byte) (int, error)  { return d.file.Read(buf) }
func (d *linuxDevice) Write(buf []byte) (int, error) { return d.file.Write(buf) }
func (d *linuxDevice) Name() string                  { return d.name }
func (d *linuxDevice) File() *os.File                { return d.file }
func (d *linuxDevice) Close() error                  { return d.file.Close() }
