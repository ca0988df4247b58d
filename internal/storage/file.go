package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("log file closed")

// LocalFile is an append-only text file. The handle is opened lazily on
// the first Append, so resolving a file never creates it.
type LocalFile struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// DocumentsDir returns the writable directory for log files:
// $CRASHLOG_HOME, or <user config dir>/crashlog.
func DocumentsDir() (string, error) {
	if dir := os.Getenv("CRASHLOG_HOME"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "crashlog"), nil
}

// Open resolves name inside dir (DocumentsDir when empty), creating dir.
func Open(dir, name string) (*LocalFile, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid log file name %q", name)
	}
	if dir == "" {
		d, err := DocumentsDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &LocalFile{path: filepath.Join(dir, name)}, nil
}

// Path returns the absolute or dir-relative file path.
func (f *LocalFile) Path() string {
	return f.path
}

// Append writes p at the end of the file.
func (f *LocalFile) Append(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.file == nil {
		fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		f.file = fh
	}
	_, err := f.file.Write(p)
	return err
}

// ReadAll returns the file content. A file that was never written reads as
// empty.
func (f *LocalFile) ReadAll() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Truncate empties the file.
func (f *LocalFile) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return f.file.Truncate(0)
	}
	err := os.Truncate(f.path, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Sync flushes the file buffers to disk.
func (f *LocalFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close closes the handle. It is safe to call more than once.
func (f *LocalFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
