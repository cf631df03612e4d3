package xlog

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// RotatingFile is a size-capped log file. Once the cap is exceeded the file is
// renamed to "<path>.old" (replacing any previous one) and a fresh file is opened.
type RotatingFile struct {
	mu       sync.Mutex
	path     string
	oldPath  string
	maxBytes int64
	file     *os.File
	size     int64
}

func OpenRotatingFile(path string, maxBytes int64) (*RotatingFile, error) {
	if path == "" {
		return nil, errors.New("log file path is empty")
	}
	rf := &RotatingFile{path: path, oldPath: path + ".old", maxBytes: maxBytes}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open log file %s", rf.path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "stat log file %s", rf.path)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}

func (rf *RotatingFile) Path() string { return rf.path }

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.maxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.maxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return errors.Wrapf(err, "close log file %s", rf.path)
	}
	rf.file = nil
	if err := os.Remove(rf.oldPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", rf.oldPath)
	}
	// rename失败时继续写原文件
	_ = os.Rename(rf.path, rf.oldPath)
	return rf.open()
}

func (rf *RotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	return rf.file.Sync()
}

func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}
