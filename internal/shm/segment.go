// Package shm allocates fixed-size shared memory segments backed by
// memfd_create(2) and maps them into the calling process with mmap(2).
//
// A Segment is the unit of "detach" in skytun: a worker that never receives
// a segment's file descriptor across exec(2) has no way to reach it. That
// is how privilege separation is enforced under a re-exec process model,
// where every worker is a freshly exec'd process rather than a fork'd child.
package shm

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Segment is a memfd-backed region of shared memory mapped into this
// process's address space.
type Segment struct {
	file *os.File
	data []byte
}

// Create allocates a new anonymous shared segment of the given size and
// maps it read-write in this process. The returned Segment owns the memfd's
// file descriptor, suitable for passing to a child via exec.Cmd.ExtraFiles;
// call File to obtain it.
func Create(name string, size int) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %q: %w", name, err)
	}
	file := os.NewFile(uintptr(fd), name)

	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: truncate %q to %d: %w", name, size, err)
	}

	return mapSegment(file, size)
}

// Open maps an inherited segment file descriptor (received via
// exec.Cmd.ExtraFiles, i.e. fd 3, 4, ... in the child) of the given size.
func Open(fd uintptr, size int) (*Segment, error) {
	file := os.NewFile(fd, fmt.Sprintf("shm-fd-%d", fd))
	return mapSegment(file, size)
}

func mapSegment(file *os.File, size int) (*Segment, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mmap %q (%d bytes): %w", file.Name(), size, err)
	}
	return &Segment{file: file, data: data}, nil
}

// File returns the underlying file descriptor, for handing to exec.Cmd.ExtraFiles.
func (s *Segment) File() *os.File {
	return s.file
}

// Ptr returns an unsafe pointer to the start of the mapped region. Callers
// cast this to the concrete shared struct type for the segment.
func (s *Segment) Ptr() unsafe.Pointer {
	if len(s.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&s.data[0])
}

// Detach unmaps the segment and closes its file descriptor. After Detach,
// any pointer previously obtained from Ptr is invalid.
func (s *Segment) Detach() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("shm: munmap %q: %w", s.file.Name(), err)
		}
		s.data = nil
	}
	return s.file.Close()
}
