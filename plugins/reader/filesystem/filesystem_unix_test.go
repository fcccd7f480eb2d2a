//go:build !windows

package filesystem

import (
	"path/filepath"
	"syscall"
	"testing"
)

// TestWalkDirNonRegular 非常规文件被忽略。
func TestWalkDirNonRegular(t *testing.T) {
	root := t.TempDir()
	if err := syscall.Mkfifo(filepath.Join(root, "fifo"), 0o644); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	if ids, _ := collect(t, New(nil), []string{root}); len(ids) != 0 {
		t.Fatalf("non-regular should skip, visited %v", ids)
	}
}
