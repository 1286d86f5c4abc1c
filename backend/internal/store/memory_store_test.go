package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestFile(t *testing.T, s FileStore, roomID string) *CollaborationFile {
	t.Helper()
	f := &CollaborationFile{
		ID:        NewFileID(),
		RoomID:    roomID,
		Name:      "main.go",
		Path:      "main.go",
		Content:   "package main",
		Language:  "go",
		Version:   1,
		CreatorID: "u-1",
	}
	if err := s.Create(context.Background(), f); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return f
}

func TestMemoryFileStore_UpdateContentCAS(t *testing.T) {
	s := NewMemoryFileStore()
	ctx := context.Background()
	f := newTestFile(t, s, "r-1")

	got, err := s.UpdateContent(ctx, f.ID, 1, "package main // v2")
	if err != nil {
		t.Fatalf("UpdateContent() error = %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2", got.Version)
	}

	// 旧的 baseVersion 再提交一次必然冲突
	if _, err := s.UpdateContent(ctx, f.ID, 1, "stale"); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("UpdateContent(stale) error = %v, want ErrVersionConflict", err)
	}

	cur, err := s.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cur.Content != "package main // v2" || cur.Version != 2 {
		t.Fatalf("after stale write: content=%q version=%d", cur.Content, cur.Version)
	}
}

// 同一个 baseVersion 的 N 个并发提交，恰好一个成功，其余 N-1 个冲突
func TestMemoryFileStore_ConcurrentUpdateOneWinner(t *testing.T) {
	s := NewMemoryFileStore()
	ctx := context.Background()
	f := newTestFile(t, s, "r-1")

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	success, conflict := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateContent(ctx, f.ID, 1, "winner")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrVersionConflict):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 || conflict != n-1 {
		t.Fatalf("success=%d conflict=%d, want 1/%d", success, conflict, n-1)
	}
	cur, _ := s.Get(ctx, f.ID)
	if cur.Version != 2 {
		t.Fatalf("Version = %d, want 2", cur.Version)
	}
}

func TestMemoryFileStore_RenameBumpsVersionOnce(t *testing.T) {
	s := NewMemoryFileStore()
	ctx := context.Background()
	f := newTestFile(t, s, "r-1")

	got, err := s.Rename(ctx, f.ID, "index.ts", "src/index.ts", "typescript")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2", got.Version)
	}
	if got.Content != f.Content {
		t.Fatalf("Rename 不应碰内容: %q", got.Content)
	}
	// 改名后老版本号作废
	if _, err := s.UpdateContent(ctx, f.ID, 1, "x"); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("UpdateContent(old base) error = %v, want ErrVersionConflict", err)
	}
}

func TestMemoryFileStore_DeleteIdempotent(t *testing.T) {
	s := NewMemoryFileStore()
	ctx := context.Background()
	f := newTestFile(t, s, "r-1")

	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete() second time error = %v", err)
	}
	if _, err := s.Get(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryFileStore_DeleteByRoom(t *testing.T) {
	s := NewMemoryFileStore()
	ctx := context.Background()
	newTestFile(t, s, "r-1")
	newTestFile(t, s, "r-1")
	other := newTestFile(t, s, "r-2")

	if err := s.DeleteByRoom(ctx, "r-1"); err != nil {
		t.Fatalf("DeleteByRoom() error = %v", err)
	}
	files, _ := s.ListByRoom(ctx, "r-1")
	if len(files) != 0 {
		t.Fatalf("r-1 still has %d files", len(files))
	}
	if _, err := s.Get(ctx, other.ID); err != nil {
		t.Fatalf("r-2 的文件不该被级联删掉: %v", err)
	}
}
