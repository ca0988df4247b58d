package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coffersTech/crashlog/internal/config"
	"github.com/coffersTech/crashlog/internal/engine"
	"github.com/coffersTech/crashlog/internal/pkg/security"
	"github.com/coffersTech/crashlog/internal/registry"
	"github.com/coffersTech/crashlog/internal/storage"
	"github.com/coffersTech/crashlog/internal/upload"
)

func main() {
	cfg, err := config.LoadClient("crashlog", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	dir := cfg.Dir
	if dir == "" {
		if dir, err = storage.DocumentsDir(); err != nil {
			log.Fatalf("Failed to resolve log directory: %v", err)
		}
	}
	instanceID := registry.EnsureInstanceID(dir)

	ctx := context.Background()
	uploader, closeUploader, err := newUploader(ctx, cfg, instanceID)
	if err != nil {
		log.Fatalf("Failed to create uploader: %v", err)
	}
	defer closeUploader()

	// Lines from stdin are the host's workload; the pump runs as the
	// protected startup routine so its panics become report records.
	guard := engine.NewGuard()
	finished := make(chan struct{})
	handoff := make(chan *engine.LogBuffer, 1)
	pump := func() {
		defer close(finished)
		lb := <-handoff
		<-lb.Ready()
		pumpInput(os.Stdin, lb, guard)
	}

	lb, err := engine.New(engine.Options{
		Guard:       guard,
		Startup:     pump,
		Debug:       cfg.Debug,
		Uploader:    uploader,
		MinutesWait: cfg.MinutesWait,
		FileName:    cfg.FileName,
		Dir:         dir,
		OpenSink:    openSink,
		StartupNote: "instance " + instanceID,
	})
	if err != nil {
		log.Fatalf("Failed to start log buffer: %v", err)
	}
	handoff <- lb
	slog.SetDefault(slog.New(engine.NewSlogHandler(lb, slog.LevelDebug)))

	<-lb.Ready()
	log.Printf("crashlog %s started. File: %s, State: %s, Upload every %d min", upload.Version, lb.LogFile(), lb.State(), cfg.MinutesWait)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal: %v. Shutting down...", sig)
	case <-finished:
		log.Println("Input closed. Shutting down...")
	}

	if !cfg.Debug {
		if err := lb.UploadNow(ctx); err != nil {
			log.Printf("Final upload failed: %v", err)
		}
	}
	lb.Shutdown()

	st := lb.Stats()
	log.Printf("Records: %d, uploads: %d (%d failed)", st.Records, st.Uploads, st.UploadFailures)
	log.Println("crashlog exited gracefully.")
}

func openSink(dir, name string) (engine.FileSink, error) {
	return storage.Open(dir, name)
}

func newUploader(ctx context.Context, cfg *config.Client, instanceID string) (engine.Uploader, func(), error) {
	switch {
	case cfg.GCSBucket != "":
		u, err := upload.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GCSPrefix, instanceID, cfg.GCSKeyFile)
		if err != nil {
			return nil, nil, err
		}
		return u, func() { _ = u.Close() }, nil

	case cfg.ServerURL != "":
		var cipher *security.Cipher
		if cfg.KeyFile != "" {
			c, created, err := security.LoadOrCreateKey(cfg.KeyFile)
			if err != nil {
				return nil, nil, err
			}
			if created {
				log.Printf("Generated new sealing key at %s; install it on the collector", cfg.KeyFile)
			}
			cipher = c
		}
		u, err := upload.NewHTTPUploader(upload.HTTPOptions{
			ServerURL:  cfg.ServerURL,
			APIKey:     cfg.APIKey,
			InstanceID: instanceID,
			AppName:    cfg.AppName,
			Cipher:     cipher,
		})
		if err != nil {
			return nil, nil, err
		}
		return u, func() {}, nil
	}

	// Debug mode without a target never uploads.
	return engine.UploaderFunc(func(context.Context, string) error {
		return errors.New("no upload target configured")
	}), func() {}, nil
}

// pumpInput records r line by line; a read error becomes a report record.
func pumpInput(r io.Reader, lb *engine.LogBuffer, guard *engine.Guard) {
	if err := pumpLines(r, lb); err != nil {
		guard.Report(fmt.Errorf("read stdin: %w", err))
	}
}

// pumpLines records every line of r until EOF.
func pumpLines(r io.Reader, lb *engine.LogBuffer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		label, text := parseLine(sc.Text())
		if text == "" {
			continue
		}
		lb.CollectLog(text, label)
	}
	return sc.Err()
}

// parseLine splits an optional "label:" prefix off line. Lines without a
// known prefix are info records.
func parseLine(line string) (label, text string) {
	line = strings.TrimSpace(line)
	if head, rest, ok := strings.Cut(line, ":"); ok {
		switch l := strings.ToLower(strings.TrimSpace(head)); l {
		case engine.LabelDebug, engine.LabelInfo, engine.LabelWarn, engine.LabelError, engine.LabelFatal:
			return l, strings.TrimSpace(rest)
		case "warning":
			return engine.LabelWarn, strings.TrimSpace(rest)
		}
	}
	return engine.LabelInfo, line
}
