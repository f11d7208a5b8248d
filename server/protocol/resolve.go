//go:build linux

package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kfcemployee/filesrv/server/engine"
	"golang.org/x/sys/unix"
)

var errNotRegular = errors.New("not a regular file")

// what resolution needs to know about a path
type FileInfo struct {
	Size          int64
	WorldReadable bool
	IsDir         bool
}

// FileSystem is everything the processor asks of the disk.
type FileSystem interface {
	// Stat fails when the path does not exist
	Stat(path string) (FileInfo, error)
	// Map returns a read-only view of the first size bytes of path
	Map(path string, size int64) (engine.Body, error)
}

// MmapFS maps files with mmap(PROT_READ, MAP_PRIVATE); the fd is closed right after mapping.
type MmapFS struct{}

var _ FileSystem = MmapFS{}

func (MmapFS) Stat(path string) (FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Size:          st.Size,
		WorldReadable: st.Mode&unix.S_IROTH != 0,
		IsDir:         st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}

func (MmapFS) Map(path string, size int64) (engine.Body, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map %s: %w", path, errNotRegular)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &mappedFile{data: data}, nil
}

// mappedFile is unmapped once, on the first Release
type mappedFile struct {
	data []byte
}

func (m *mappedFile) Bytes() []byte { return m.data }

func (m *mappedFile) Release() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}

var dotdot = []byte("..")

// a ".." segment anywhere in the target
func escapesRoot(target []byte) bool {
	for seg := range bytes.SplitSeq(target, []byte("/")) {
		if bytes.Equal(seg, dotdot) {
			return true
		}
	}
	return false
}

// candidate path: root + target, cut to fit limit-1 bytes
func joinPath(root string, target []byte, limit int) string {
	p := make([]byte, 0, len(root)+len(target))
	p = append(p, root...)
	p = append(p, target...)
	if limit > 1 && len(p) > limit-1 {
		p = p[:limit-1]
	}
	return string(p)
}
