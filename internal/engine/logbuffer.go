package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFileName is used when Options.FileName is empty.
const DefaultFileName = "error_log.txt"

var (
	ErrNoErrorSource   = errors.New("error source is required")
	ErrNoUploader      = errors.New("uploader is required")
	ErrNoSinkOpener    = errors.New("sink opener is required")
	ErrInvalidInterval = errors.New("upload interval must be a positive number of minutes")
	ErrNotReady        = errors.New("log file not resolved yet")
)

// intervalUnit scales Options.MinutesWait.
var intervalUnit = time.Minute

// State is the lifecycle stage of a LogBuffer.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Options configures a LogBuffer.
type Options struct {
	// Guard receives the error hook and runs Startup. Required.
	Guard ErrorSource
	// Startup is the host's own startup routine, run inside Guard.
	Startup func()
	// Debug sends records to Console only: no file writes, no uploads.
	Debug bool
	// Uploader is handed the log file path. Required.
	Uploader Uploader
	// MinutesWait is the upload tick interval. Must be positive.
	MinutesWait int
	// FileName defaults to DefaultFileName.
	FileName string
	// Dir is passed through to OpenSink.
	Dir string
	// OpenSink resolves the log file. Required.
	OpenSink SinkOpener
	// StartupNote is appended to the startup record, e.g. an instance id.
	StartupNote string

	Console io.Writer
	Now     func() time.Time
	// OnError receives flush, upload and sink failures. It must not log
	// through the same LogBuffer.
	OnError func(error)
}

// LogBuffer keeps every record in memory, appends new records to a local
// file and periodically hands that file to an Uploader.
type LogBuffer struct {
	opts     Options
	interval time.Duration

	// mu guards records, flushed, dirty, flushSeq, sink and stats. The file append
	// happens under mu so flushed ranges never overlap.
	mu       sync.Mutex
	records  []string
	flushed  int
	dirty    bool
	flushSeq uint64
	sink     FileSink
	path     string
	stats    counters

	uploadMu sync.Mutex

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New validates opts and starts initialization in the background.
// It never blocks on I/O.
func New(opts Options) (*LogBuffer, error) {
	if opts.Guard == nil {
		return nil, ErrNoErrorSource
	}
	if opts.Uploader == nil {
		return nil, ErrNoUploader
	}
	if opts.OpenSink == nil {
		return nil, ErrNoSinkOpener
	}
	if opts.MinutesWait <= 0 {
		return nil, ErrInvalidInterval
	}
	if opts.FileName == "" {
		opts.FileName = DefaultFileName
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnError == nil {
		opts.OnError = func(err error) {
			log.Printf("LogBuffer: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	lb := &LogBuffer{
		opts:     opts,
		interval: time.Duration(opts.MinutesWait) * intervalUnit,
		records:  make([]string, 0, 256),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	lb.wg.Add(1)
	go lb.run()

	return lb, nil
}

func (lb *LogBuffer) run() {
	defer lb.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			lb.opts.OnError(fmt.Errorf("initialization: %w", panicError(r)))
			lb.markReady()
		}
	}()
	lb.state.Store(int32(StateInitializing))

	lb.opts.Guard.OnError(lb.ReportError)
	if lb.opts.Startup != nil {
		lb.opts.Guard.Go(lb.opts.Startup)
	}

	sink, err := lb.opts.OpenSink(lb.opts.Dir, lb.opts.FileName)
	if err != nil {
		lb.opts.OnError(fmt.Errorf("resolve log file %q: %w", lb.opts.FileName, err))
		lb.markReady()
		return
	}

	lb.mu.Lock()
	lb.sink = sink
	lb.path = sink.Path()
	lb.mu.Unlock()
	lb.state.Store(int32(StateReady))

	note := "Logger started"
	if lb.opts.StartupNote != "" {
		note += ": " + lb.opts.StartupNote
	}
	lb.Info(note)
	lb.markReady()

	if !lb.opts.Debug {
		if err := lb.UploadNow(lb.ctx); err != nil {
			lb.opts.OnError(err)
		}
	}

	lb.runLoop()
}

func (lb *LogBuffer) markReady() {
	lb.readyOnce.Do(func() { close(lb.ready) })
}

// State reports the lifecycle stage.
func (lb *LogBuffer) State() State {
	return State(lb.state.Load())
}

// Ready is closed once initialization finished, successfully or not.
func (lb *LogBuffer) Ready() <-chan struct{} {
	return lb.ready
}

// LogFile returns the resolved log file path, or "" before resolution.
func (lb *LogBuffer) LogFile() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.path
}

// CollectLog appends text under label. In debug mode the record is printed
// to the console; otherwise new records are flushed to the file.
func (lb *LogBuffer) CollectLog(text, label string) {
	lb.add(LogRecord{Time: lb.opts.Now(), Label: label, Body: text})
}

// ReportError appends a report record for err and its stack trace.
func (lb *LogBuffer) ReportError(err error, stack []byte) {
	lb.add(LogRecord{Time: lb.opts.Now(), Label: LabelReport, Body: reportBody(err, stack)})
}

func (lb *LogBuffer) Debug(text string) { lb.CollectLog(text, LabelDebug) }
func (lb *LogBuffer) Info(text string)  { lb.CollectLog(text, LabelInfo) }
func (lb *LogBuffer) Warn(text string)  { lb.CollectLog(text, LabelWarn) }
func (lb *LogBuffer) Error(text string) { lb.CollectLog(text, LabelError) }

// Fatal records text with the fatal label. It does not exit.
func (lb *LogBuffer) Fatal(text string) { lb.CollectLog(text, LabelFatal) }

func (lb *LogBuffer) add(rec LogRecord) {
	if err := lb.appendRecord(rec); err != nil {
		lb.opts.OnError(err)
	}
}

func (lb *LogBuffer) appendRecord(rec LogRecord) error {
	line := rec.String()

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.records = append(lb.records, line)
	lb.stats.countLabel(rec.Label)
	if lb.opts.Debug {
		return lb.printLocked(line)
	}
	return lb.flushLocked()
}

// printLocked writes line to the console, reporting a writer panic as an
// error.
func (lb *LogBuffer) printLocked(line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("console write: %w", panicError(r))
		}
	}()
	_, err = fmt.Fprintln(lb.opts.Console, line)
	return err
}

// Flush writes any records not yet in the file. It is a no-op in debug
// mode and before the file is resolved.
func (lb *LogBuffer) Flush() error {
	if lb.opts.Debug {
		return nil
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.flushLocked()
}

// flushLocked appends records[flushed:len] as one newline-terminated chunk.
// mu must be held.
func (lb *LogBuffer) flushLocked() error {
	if lb.sink == nil {
		return nil
	}
	n := len(lb.records)
	if n <= lb.flushed {
		return nil
	}

	chunk := strings.Join(lb.records[lb.flushed:n], "\n") + "\n"
	if err := appendChunk(lb.sink, []byte(chunk)); err != nil {
		return fmt.Errorf("append %d records to %s: %w", n-lb.flushed, lb.path, err)
	}

	lb.flushed = n
	lb.dirty = true
	lb.flushSeq++
	return nil
}

// appendChunk converts a panic in the sink into an error.
func appendChunk(sink FileSink, p []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return sink.Append(p)
}

// Dirty reports whether the file changed since the last successful upload.
func (lb *LogBuffer) Dirty() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.dirty
}

// PrintBuffer writes every buffered record to the console.
func (lb *LogBuffer) PrintBuffer() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for _, line := range lb.records {
		fmt.Fprintln(lb.opts.Console, line)
	}
}

// PrintFile writes the file content to the console.
func (lb *LogBuffer) PrintFile() error {
	lb.mu.Lock()
	sink := lb.sink
	lb.mu.Unlock()
	if sink == nil {
		return ErrNotReady
	}

	data, err := sink.ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", sink.Path(), err)
	}
	_, err = lb.opts.Console.Write(data)
	return err
}

// ClearFile truncates the file. The in-memory buffer and cursors are left
// as they are, so later flushes only write records added afterwards.
func (lb *LogBuffer) ClearFile() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.sink == nil {
		return ErrNotReady
	}
	if err := lb.sink.Truncate(); err != nil {
		return fmt.Errorf("truncate %s: %w", lb.path, err)
	}
	return nil
}

// Shutdown stops the upload loop, flushes pending records and closes the
// file. Records logged afterwards stay in memory only.
func (lb *LogBuffer) Shutdown() {
	lb.closeOnce.Do(func() {
		lb.cancel()
		lb.wg.Wait()

		if err := lb.Flush(); err != nil {
			lb.opts.OnError(err)
		}

		lb.mu.Lock()
		sink := lb.sink
		lb.sink = nil
		lb.mu.Unlock()

		if sink != nil {
			if err := sink.Sync(); err != nil {
				lb.opts.OnError(fmt.Errorf("sync %s: %w", sink.Path(), err))
			}
			if err := sink.Close(); err != nil {
				lb.opts.OnError(fmt.Errorf("close %s: %w", sink.Path(), err))
			}
		}
	})
}
