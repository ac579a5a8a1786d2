//go:build unix

package registry

import (
	"os"

	sys "golang.org/x/sys/unix"
)

// mmapFile maps path read-only and returns the mapped bytes plus a closer
// that unmaps it. For an image mounted by loadImage, the cached resolver's
// readers point directly into this mapping, so its closer runs on
// eviction, from the LRU's OnEvicted callback (or at once, if Load rejects
// the image). parseSymbolText runs its closer as soon as parsing ends,
// since the parser copies everything it keeps.
func mmapFile(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, func() {}, nil
	}

	data, err := sys.Mmap(int(f.Fd()), 0, int(size), sys.PROT_READ, sys.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, func() { sys.Munmap(data) }, nil
}
