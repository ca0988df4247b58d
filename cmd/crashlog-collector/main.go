package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/crashlog/internal/config"
	"github.com/coffersTech/crashlog/internal/pkg/security"
	"github.com/coffersTech/crashlog/internal/registry"
	"github.com/coffersTech/crashlog/internal/server"
)

func main() {
	cfg, err := config.LoadCollector("crashlog-collector", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("crashlog collector started...")

	// 1. Upload key
	hash := []byte(cfg.APIKeyHash)
	if len(hash) == 0 && cfg.APIKey != "" {
		if hash, err = bcrypt.GenerateFromPassword([]byte(cfg.APIKey), bcrypt.DefaultCost); err != nil {
			log.Fatalf("Failed to hash API key: %v", err)
		}
	}
	if len(hash) == 0 {
		log.Println("Warning: no API key configured, uploads are not authenticated")
	}

	// 2. Optional sealing key
	var cipher *security.Cipher
	if cfg.KeyFile != "" {
		c, created, err := security.LoadOrCreateKey(cfg.KeyFile)
		if err != nil {
			log.Fatalf("Failed to load sealing key: %v", err)
		}
		if created {
			log.Printf("Generated new sealing key at %s; copy it to devices", cfg.KeyFile)
		}
		cipher = c
	}

	// 3. Registry and server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := registry.NewStore()
	store.StartCleanupLoop(ctx, 10*time.Minute, 30*24*time.Hour)

	srv, err := server.NewUploadServer(server.Options{
		DataDir:    cfg.DataDir,
		APIKeyHash: hash,
		Cipher:     cipher,
		Retention:  cfg.Retention,
	}, store)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	go srv.RunCleaner(ctx, time.Hour)

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		log.Printf("Listening on %s. Data: %s, Retention: %v", addr, cfg.DataDir, cfg.Retention)
		if err := srv.Start(addr); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// 4. Graceful Shutdown Hook
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal: %v. Shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Printf("Accepted %d uploads. crashlog collector exited gracefully.", srv.Uploads())
}
