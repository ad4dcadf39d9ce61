//go:build unix

package mapped

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type fileRegion struct {
	path string
	f    *os.File
	data []byte
}

func (r *fileRegion) Bytes() []byte { return r.data }

func (r *fileRegion) Sync() error {
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %w", r.path, err)
	}
	return nil
}

func (r *fileRegion) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		r.f.Close()
		return fmt.Errorf("munmap %s: %w", r.path, err)
	}
	r.data = nil
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.path, err)
	}
	return nil
}

// OpenFile maps the file at path, creating it if needed. A file smaller
// than size is grown (sparsely) to size; a larger one is mapped whole,
// since a region never shrinks. Processes mapping the same file share its
// contents, but only goroutines of one process share root notifications.
func OpenFile(path string, size int64, opts ...Option) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	} else {
		size = st.Size()
	}
	if size < HeaderSize || size > maxAddress {
		f.Close()
		return nil, fmt.Errorf("open %s: region size %d out of range", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	r := &fileRegion{path: path, f: f, data: data}
	s, err := Open(r, opts...)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}
