//go:build windows

package registry

import "os"

// mmapFile on Windows falls back to a plain read: golang.org/x/sys/unix's
// Mmap has no Windows counterpart in this dependency, and spec.md doesn't
// require the zero-copy path to be portable, only that it exist where the
// platform supports it.
func mmapFile(path string) ([]byte, func(), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() {}, nil
}
