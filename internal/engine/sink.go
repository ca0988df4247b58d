package engine

import "context"

// FileSink is the single local file LogBuffer writes to.
type FileSink interface {
	// Append writes p at the end of the file.
	Append(p []byte) error
	// ReadAll returns the whole file content.
	ReadAll() ([]byte, error)
	// Truncate empties the file.
	Truncate() error
	// Path identifies the file for uploaders.
	Path() string
	// Sync commits appended data to stable storage.
	Sync() error
	Close() error
}

// SinkOpener resolves the file named name inside dir.
type SinkOpener func(dir, name string) (FileSink, error)

// Uploader transmits the log file at path. A returned error keeps the
// file marked dirty so the next tick tries again.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// UploaderFunc adapts a plain function to Uploader.
type UploaderFunc func(ctx context.Context, path string) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, path string) error {
	return f(ctx, path)
}
