package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/crashlog/internal/pkg/security"
	"github.com/coffersTech/crashlog/internal/registry"
	"github.com/coffersTech/crashlog/internal/storage"
	"github.com/coffersTech/crashlog/internal/upload"
)

// MaxUploadBytes caps a single request body.
const MaxUploadBytes = 32 << 20

var validInstanceID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Options configures an UploadServer.
type Options struct {
	DataDir string
	// APIKeyHash is the bcrypt hash of the shared upload key. Empty disables
	// authentication.
	APIKeyHash []byte
	// Cipher opens sealed payloads. Optional.
	Cipher    *security.Cipher
	Retention time.Duration
	// MaxLogBytes caps a stored log after decompression. Defaults to
	// MaxUploadBytes.
	MaxLogBytes int64
}

// UploadServer receives log files from devices and keeps the latest copy
// per instance.
type UploadServer struct {
	opts     Options
	registry *registry.Store
	regSrv   *registry.Server
	unpacker *storage.Unpacker

	mu  sync.Mutex
	srv *http.Server

	uploadCounter int64
}

func NewUploadServer(opts Options, store *registry.Store) (*UploadServer, error) {
	if opts.DataDir == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.MaxLogBytes <= 0 {
		opts.MaxLogBytes = MaxUploadBytes
	}
	unpacker, err := storage.NewUnpacker(uint64(opts.MaxLogBytes))
	if err != nil {
		return nil, err
	}
	return &UploadServer{
		opts:     opts,
		registry: store,
		regSrv:   registry.NewServer(store),
		unpacker: unpacker,
	}, nil
}

// Handler returns the routing table.
func (s *UploadServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/upload", s.AuthMiddleware(http.HandlerFunc(s.handleUpload)))
	mux.Handle("/api/registry/handshake", s.AuthMiddleware(http.HandlerFunc(s.regSrv.HandleHandshake)))
	mux.Handle("/api/registry/instances", s.AuthMiddleware(http.HandlerFunc(s.regSrv.HandleListInstances)))
	return mux
}

// Start runs the HTTP server.
func (s *UploadServer) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *UploadServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Uploads returns the number of accepted uploads since start.
func (s *UploadServer) Uploads() int64 {
	return atomic.LoadInt64(&s.uploadCounter)
}

// AuthMiddleware checks the bearer key against the configured bcrypt hash.
func (s *UploadServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.APIKeyHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crashlog"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(s.opts.APIKeyHash, []byte(token)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crashlog"`)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *UploadServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleUpload stores the uploaded log file as <data>/<instance>.log.
// Devices always send the whole file, so the stored copy is replaced.
func (s *UploadServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	instanceID := r.Header.Get(upload.HeaderInstanceID)
	if !validInstanceID.MatchString(instanceID) {
		uploadsTotal.WithLabelValues(resultRejected).Inc()
		http.Error(w, "Invalid or missing instance id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		uploadsTotal.WithLabelValues(resultRejected).Inc()
		http.Error(w, "Failed to read body", http.StatusRequestEntityTooLarge)
		return
	}
	defer r.Body.Close()

	if r.Header.Get(upload.HeaderSealed) == "true" {
		if s.opts.Cipher == nil {
			uploadsTotal.WithLabelValues(resultRejected).Inc()
			http.Error(w, "Sealed payload not accepted", http.StatusBadRequest)
			return
		}
		if body, err = s.opts.Cipher.Open(body); err != nil {
			uploadsTotal.WithLabelValues(resultRejected).Inc()
			http.Error(w, "Failed to open payload", http.StatusBadRequest)
			return
		}
	}

	if r.Header.Get(upload.HeaderEncoding) == "zstd" {
		if body, err = s.unpacker.Unpack(body); err != nil {
			log.Printf("Unpack error from %s: %v", instanceID, err)
			uploadsTotal.WithLabelValues(resultRejected).Inc()
			if errors.Is(err, storage.ErrTooLarge) {
				http.Error(w, "Log too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Invalid compressed payload", http.StatusBadRequest)
			return
		}
	}

	if err := s.store(instanceID, body); err != nil {
		log.Printf("Failed to store upload from %s: %v", instanceID, err)
		uploadsTotal.WithLabelValues(resultFailed).Inc()
		http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	atomic.AddInt64(&s.uploadCounter, 1)
	uploadsTotal.WithLabelValues(resultAccepted).Inc()
	uploadSize.Observe(float64(len(body)))
	s.registry.RecordUpload(instanceID, registry.RemoteIP(r), int64(len(body)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"bytes":  len(body),
	})
}

// store writes data atomically via a temp file and rename. Concurrent
// uploads for one instance use distinct temp files.
func (s *UploadServer) store(instanceID string, data []byte) error {
	path := filepath.Join(s.opts.DataDir, instanceID+".log")

	tmp, err := os.CreateTemp(s.opts.DataDir, instanceID+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
