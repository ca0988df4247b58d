package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Instance is an app install that handshook or uploaded logs.
type Instance struct {
	InstanceID   string `json:"instance_id"`
	AppName      string `json:"app_name"`
	Hostname     string `json:"hostname"`
	IP           string `json:"ip"`
	Platform     string `json:"platform"`
	Version      string `json:"version"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
	Uploads      int64  `json:"uploads"`
	UploadBytes  int64  `json:"upload_bytes"`
}

// Store keeps known instances in memory.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

func NewStore() *Store {
	return &Store{
		instances: make(map[string]*Instance),
	}
}

// RegisterOrUpdate adds a new instance or refreshes an existing one.
// Upload counters are preserved.
func (s *Store) RegisterOrUpdate(instance Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := s.instances[instance.InstanceID]; ok {
		instance.RegisteredAt = existing.RegisteredAt
		instance.Uploads = existing.Uploads
		instance.UploadBytes = existing.UploadBytes
	} else if instance.RegisteredAt == 0 {
		instance.RegisteredAt = now
	}

	instance.LastSeenAt = now
	s.instances[instance.InstanceID] = &instance
}

// RecordUpload counts an upload of n bytes, registering unknown instances.
func (s *Store) RecordUpload(instanceID, ip string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	inst, ok := s.instances[instanceID]
	if !ok {
		inst = &Instance{InstanceID: instanceID, IP: ip, RegisteredAt: now}
		s.instances[instanceID] = inst
	}
	inst.Uploads++
	inst.UploadBytes += n
	inst.LastSeenAt = now
}

// GetInstance returns a copy of the instance.
func (s *Store) GetInstance(instanceID string) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// ListInstances returns all instances, most recently seen first.
func (s *Store) ListInstances() []Instance {
	s.mu.RLock()
	list := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		list = append(list, *inst)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].LastSeenAt != list[j].LastSeenAt {
			return list[i].LastSeenAt > list[j].LastSeenAt
		}
		return list[i].InstanceID < list[j].InstanceID
	})
	return list
}

// PruneStaleInstances removes instances not seen within timeout.
func (s *Store) PruneStaleInstances(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()
	count := 0
	timeoutSec := int64(timeout.Seconds())

	for id, inst := range s.instances {
		if now-inst.LastSeenAt > timeoutSec {
			delete(s.instances, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale instances every interval until ctx ends.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneStaleInstances(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
