package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store is a process-local registry of buffers keyed by agent id. It is safe
// for concurrent access; each buffer keeps its own single-writer discipline.
type Store struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// NewStore constructs an empty buffer store.
func NewStore() *Store {
	return &Store{buffers: make(map[string]*Buffer)}
}

// Get returns the buffer for an agent, if registered.
func (s *Store) Get(agentID string) (*Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[agentID]
	return b, ok
}

// GetOrCreate returns an existing buffer or lazily creates an empty one.
func (s *Store) GetOrCreate(agentID string, optFns ...func(o *Options)) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[agentID]; ok {
		return b
	}
	b := New(agentID, optFns...)
	s.buffers[agentID] = b
	return b
}

// Put registers (or replaces) a buffer under its agent id.
func (s *Store) Put(b *Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[b.AgentID()] = b
}

// Remove drops the buffer for an agent.
func (s *Store) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, agentID)
}

// IDs returns the registered agent ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SaveAll persists every registered buffer to dir as <agent_id>.json.
func (s *Store) SaveAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create buffer dir: %w", err)
	}
	for _, id := range s.IDs() {
		b, _ := s.Get(id)
		if err := b.Save(filepath.Join(dir, id+".json")); err != nil {
			return err
		}
	}
	return nil
}

// LoadStore restores a store from a directory written by SaveAll.
func LoadStore(dir string, optFns ...func(o *Options)) (*Store, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read buffer dir: %w", err)
	}
	s := NewStore()
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		b, err := Load(filepath.Join(dir, f.Name()), optFns...)
		if err != nil {
			return nil, err
		}
		s.Put(b)
	}
	return s, nil
}
