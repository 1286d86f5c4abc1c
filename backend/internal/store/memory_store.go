package store

import (
	"context"
	"sync"
	"time"
)

// MemoryFileStore：内存版实现，测试和单机开发用。
// CAS 语义和 mysql 版完全一致，锁内比对版本再写入
type MemoryFileStore struct {
	mu    sync.RWMutex
	files map[string]*CollaborationFile
}

var _ FileStore = (*MemoryFileStore)(nil)

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string]*CollaborationFile)}
}

func (s *MemoryFileStore) Create(ctx context.Context, f *CollaborationFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Version == 0 {
		f.Version = 1
	}
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	cp := *f
	s.files[f.ID] = &cp
	return nil
}

func (s *MemoryFileStore) Get(ctx context.Context, id string) (*CollaborationFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryFileStore) ListByRoom(ctx context.Context, roomID string) ([]CollaborationFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CollaborationFile
	for _, f := range s.files {
		if f.RoomID == roomID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *MemoryFileStore) UpdateContent(ctx context.Context, id string, baseVersion uint64, content string) (*CollaborationFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	// 版本校验和写入在同一把锁里，两个同 baseVersion 的写只有一个能过
	if f.Version != baseVersion {
		return nil, ErrVersionConflict
	}
	f.Content = content
	f.Version++
	f.UpdatedAt = time.Now()
	cp := *f
	return &cp, nil
}

func (s *MemoryFileStore) Rename(ctx context.Context, id string, name, path, language string) (*CollaborationFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	f.Name = name
	f.Path = path
	f.Language = language
	f.Version++
	f.UpdatedAt = time.Now()
	cp := *f
	return &cp, nil
}

func (s *MemoryFileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	return nil
}

func (s *MemoryFileStore) DeleteByRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.files {
		if f.RoomID == roomID {
			delete(s.files, id)
		}
	}
	return nil
}
