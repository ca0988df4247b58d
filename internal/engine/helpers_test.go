package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memSink is an in-memory FileSink.
type memSink struct {
	mu         sync.Mutex
	data       bytes.Buffer
	appends    int
	failAppend error
	panicMsg   string
	syncs      int
	closed     bool
}

func (s *memSink) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.failAppend != nil {
		return s.failAppend
	}
	s.appends++
	s.data.Write(p)
	return nil
}

func (s *memSink) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data.Bytes()...), nil
}

func (s *memSink) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Reset()
	return nil
}

func (s *memSink) Path() string { return "/mem/error_log.txt" }

func (s *memSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String()
}

func (s *memSink) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

func (s *memSink) setFail(err error) {
	s.mu.Lock()
	s.failAppend = err
	s.mu.Unlock()
}

// setPanic makes every later Append panic with msg.
func (s *memSink) setPanic(msg string) {
	s.mu.Lock()
	s.panicMsg = msg
	s.mu.Unlock()
}

func (s *memSink) opener() SinkOpener {
	return func(dir, name string) (FileSink, error) { return s, nil }
}

// recordingUploader reports every call on calls.
type recordingUploader struct {
	calls chan string
	mu    sync.Mutex
	err   error
}

func newRecordingUploader() *recordingUploader {
	return &recordingUploader{calls: make(chan string, 64)}
}

func (u *recordingUploader) Upload(ctx context.Context, path string) error {
	u.calls <- path
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *recordingUploader) setErr(err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
}

// stepClock returns a clock advancing one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

// errorSink collects OnError reports.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errorSink) record(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func (e *errorSink) list() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

var errDisk = errors.New("disk full")

func newTestBuffer(t *testing.T, opts Options) *LogBuffer {
	t.Helper()
	if opts.Guard == nil {
		opts.Guard = NewGuard()
	}
	if opts.MinutesWait == 0 {
		opts.MinutesWait = 30
	}
	if opts.Now == nil {
		opts.Now = stepClock()
	}
	lb, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(lb.Shutdown)
	waitReady(t, lb)
	return lb
}

func waitReady(t *testing.T, lb *LogBuffer) {
	t.Helper()
	select {
	case <-lb.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("LogBuffer did not become ready")
	}
}

// waitUpload waits for one uploader call and for UploadNow to return.
func waitUpload(t *testing.T, lb *LogBuffer, u *recordingUploader) string {
	t.Helper()
	select {
	case path := <-u.calls:
		lb.uploadMu.Lock()
		lb.uploadMu.Unlock()
		return path
	case <-time.After(2 * time.Second):
		t.Fatal("uploader was not called")
		return ""
	}
}

func expectNoUpload(t *testing.T, u *recordingUploader, wait time.Duration) {
	t.Helper()
	select {
	case path := <-u.calls:
		t.Fatalf("unexpected upload of %s", path)
	case <-time.After(wait):
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
