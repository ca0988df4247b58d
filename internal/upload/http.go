package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/crashlog/internal/pkg/security"
	"github.com/coffersTech/crashlog/internal/registry"
	"github.com/coffersTech/crashlog/internal/storage"
)

// Version is reported in handshakes.
const Version = "0.1.0"

// Headers understood by the collector.
const (
	HeaderInstanceID = "X-Instance-ID"
	HeaderEncoding   = "X-Crashlog-Encoding"
	HeaderSealed     = "X-Crashlog-Sealed"
)

var ErrRejected = errors.New("upload rejected by collector")

// HTTPOptions configures an HTTPUploader.
type HTTPOptions struct {
	ServerURL  string
	APIKey     string
	InstanceID string
	AppName    string
	// Cipher seals payloads after compression. Optional.
	Cipher *security.Cipher
	Client *http.Client
}

// HTTPUploader posts the compressed log file to a collector.
type HTTPUploader struct {
	opts   HTTPOptions
	base   string
	client *http.Client
	packer *storage.Packer
	parser fastjson.ParserPool

	mu        sync.Mutex
	handshook bool
}

func NewHTTPUploader(opts HTTPOptions) (*HTTPUploader, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("server url is required")
	}
	if opts.InstanceID == "" {
		return nil, errors.New("instance id is required")
	}
	packer, err := storage.NewPacker()
	if err != nil {
		return nil, fmt.Errorf("create packer: %w", err)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPUploader{
		opts:   opts,
		base:   strings.TrimRight(opts.ServerURL, "/"),
		client: client,
		packer: packer,
	}, nil
}

// Upload sends the file at path to /api/upload.
func (u *HTTPUploader) Upload(ctx context.Context, path string) error {
	u.handshake(ctx)

	data, err := readLog(path)
	if err != nil {
		return err
	}

	payload := u.packer.Pack(data)
	if u.opts.Cipher != nil {
		if payload, err = u.opts.Cipher.Seal(payload); err != nil {
			return fmt.Errorf("seal payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.base+"/api/upload", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderEncoding, "zstd")
	if u.opts.Cipher != nil {
		req.Header.Set(HeaderSealed, "true")
	}
	u.setAuth(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	p := u.parser.Get()
	defer u.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	if status := string(v.GetStringBytes("status")); status != "ok" {
		return fmt.Errorf("%w: status %q", ErrRejected, status)
	}
	return nil
}

// handshake registers the instance once. Failures are retried on the next
// upload; the collector also registers instances on upload.
func (u *HTTPUploader) handshake(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handshook {
		return
	}

	if err := u.register(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crashlog handshake failed: %v\n", err)
		return
	}
	u.handshook = true
}

func (u *HTTPUploader) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	data, err := json.Marshal(registry.HandshakeRequest{
		InstanceID: u.opts.InstanceID,
		AppName:    u.opts.AppName,
		HostName:   hostname,
		Platform:   fmt.Sprintf("go-%s-%s", runtime.GOOS, runtime.Version()),
		Version:    Version,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.base+"/api/registry/handshake", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	u.setAuth(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("handshake failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (u *HTTPUploader) setAuth(req *http.Request) {
	if u.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.opts.APIKey)
	}
	req.Header.Set(HeaderInstanceID, u.opts.InstanceID)
}
