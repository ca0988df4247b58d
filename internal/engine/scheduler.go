package engine

import (
	"context"
	"fmt"
	"time"
)

// runLoop uploads the file on every tick it changed since the last upload.
func (lb *LogBuffer) runLoop() {
	ticker := time.NewTicker(lb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lb.uploadIfDirty(lb.ctx)
		case <-lb.ctx.Done():
			return
		}
	}
}

func (lb *LogBuffer) uploadIfDirty(ctx context.Context) {
	if lb.opts.Debug || !lb.Dirty() {
		return
	}
	if err := lb.UploadNow(ctx); err != nil {
		lb.opts.OnError(err)
	}
}

// UploadNow hands the log file to the uploader once, dirty or not. A
// successful upload clears the dirty flag unless records were flushed while
// it ran. In debug mode it does nothing.
func (lb *LogBuffer) UploadNow(ctx context.Context) error {
	if lb.opts.Debug {
		return nil
	}

	lb.uploadMu.Lock()
	defer lb.uploadMu.Unlock()

	lb.mu.Lock()
	path := lb.path
	seq := lb.flushSeq
	ready := lb.sink != nil
	lb.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	err := lb.callUploader(ctx, path)

	lb.mu.Lock()
	lb.stats.countUpload(err, lb.opts.Now())
	if err == nil && lb.flushSeq == seq {
		lb.dirty = false
	}
	lb.mu.Unlock()

	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// callUploader turns an uploader panic into an error so the tick goroutine
// survives it.
func (lb *LogBuffer) callUploader(ctx context.Context, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return lb.opts.Uploader.Upload(ctx, path)
}
