package filesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"coderoom/backend/internal/store"
	"coderoom/backend/internal/transport"
)

func newTestService(bus transport.Bus) *Service {
	return NewService(store.NewMemoryFileStore(), nil, bus, nil)
}

func TestService_CreateFileDetectsLanguage(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	f, err := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: "main.js", Content: "a", CreatorID: "u-a"})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if f.ID == "" {
		t.Fatal("ID not generated")
	}
	if f.Version != 1 {
		t.Fatalf("Version = %d, want 1", f.Version)
	}
	if f.Language != "javascript" {
		t.Fatalf("Language = %q, want javascript", f.Language)
	}
	if f.Path != "main.js" {
		t.Fatalf("Path = %q, want fallback to name", f.Path)
	}
}

func TestService_CreateFileValidation(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	if _, err := svc.CreateFile(ctx, CreateFileRequest{RoomID: "", Name: "a.go"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing roomID error = %v, want ErrValidation", err)
	}
	if _, err := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank name error = %v, want ErrValidation", err)
	}
}

// 两个 peer 基于同一版本提交：先到的成功拿到 v2，后到的拿冲突报告，
// 报告里带着双方版本号和被拒内容，文件保持先到者的状态
func TestService_ConcurrentEditConflict(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	f, err := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: "main.js", Content: "a", CreatorID: "u-a"})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	// B 先提交成功
	got, report, err := svc.UpdateFile(ctx, f.ID, UpdateFileRequest{Content: "ab", Version: 1, AuthorID: "u-b"})
	if err != nil || report != nil {
		t.Fatalf("first update: report=%+v err=%v", report, err)
	}
	if got.Version != 2 || got.Content != "ab" {
		t.Fatalf("first update = {v%d %q}, want {v2 ab}", got.Version, got.Content)
	}

	// A 还拿着 v1 提交，冲突是一等返回值，不是 error
	cur, report, err := svc.UpdateFile(ctx, f.ID, UpdateFileRequest{Content: "ac", Version: 1, AuthorID: "u-a"})
	if err != nil {
		t.Fatalf("conflicting update error = %v", err)
	}
	if report == nil {
		t.Fatal("conflicting update: report is nil")
	}
	if report.BaseVersion != 1 || report.CurrentVersion != 2 {
		t.Fatalf("report = base=%d current=%d, want 1/2", report.BaseVersion, report.CurrentVersion)
	}
	if report.RejectedContent != "ac" {
		t.Fatalf("RejectedContent = %q, want %q", report.RejectedContent, "ac")
	}
	// 返回的是当前权威状态
	if cur.Version != 2 || cur.Content != "ab" {
		t.Fatalf("authoritative state = {v%d %q}, want {v2 ab}", cur.Version, cur.Content)
	}
}

func TestService_UpdateMissingFile(t *testing.T) {
	svc := newTestService(nil)
	_, _, err := svc.UpdateFile(context.Background(), "f-missing", UpdateFileRequest{Content: "x", Version: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestService_DeleteIdempotent(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	f, _ := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: "a.go"})
	if err := svc.DeleteFile(ctx, f.ID, "u-a"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if err := svc.DeleteFile(ctx, f.ID, "u-a"); err != nil {
		t.Fatalf("DeleteFile() second time error = %v", err)
	}
}

func TestService_RenameRedetectsLanguage(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	f, _ := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: "index.js", Content: "x"})
	got, err := svc.RenameFile(ctx, f.ID, "index.ts", "", "u-a")
	if err != nil {
		t.Fatalf("RenameFile() error = %v", err)
	}
	if got.Language != "typescript" {
		t.Fatalf("Language = %q, want typescript", got.Language)
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want exactly one bump", got.Version)
	}
	if got.Content != "x" {
		t.Fatalf("Content = %q, rename must not touch content", got.Content)
	}
}

func TestService_AnnouncesOnBus(t *testing.T) {
	bus := transport.NewMemoryBus()
	svc := newTestService(bus)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, transport.FileTopic("r-1"), "observer")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f, _ := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: "a.go", Content: "x", CreatorID: "u-a"})

	recv := func() *FileEvent {
		select {
		case m := <-sub.Messages():
			evt, err := ParseFileEvent(m.Payload)
			if err != nil {
				t.Fatalf("ParseFileEvent() error = %v", err)
			}
			return evt
		case <-time.After(time.Second):
			t.Fatal("no file event within 1s")
			return nil
		}
	}

	evt := recv()
	if evt.EventType != EventFileCreated || evt.FileID != f.ID || evt.Version != 1 {
		t.Fatalf("created event = %+v", evt)
	}

	if _, _, err := svc.UpdateFile(ctx, f.ID, UpdateFileRequest{Content: "y", Version: 1, AuthorID: "u-a"}); err != nil {
		t.Fatalf("UpdateFile() error = %v", err)
	}
	evt = recv()
	if evt.EventType != EventFileUpdated || evt.Version != 2 || evt.Content != "y" {
		t.Fatalf("updated event = %+v", evt)
	}

	if err := svc.DeleteFile(ctx, f.ID, "u-a"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	evt = recv()
	if evt.EventType != EventFileDeleted || evt.FileID != f.ID {
		t.Fatalf("deleted event = %+v", evt)
	}
	// 删除事件不携带内容
	if evt.Content != "" {
		t.Fatalf("deleted event content = %q, want empty", evt.Content)
	}
}

func TestService_DeleteRoomFilesCascade(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	svcMust := func(name string) *store.CollaborationFile {
		f, err := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-1", Name: name})
		if err != nil {
			t.Fatalf("CreateFile(%s) error = %v", name, err)
		}
		return f
	}
	svcMust("a.go")
	svcMust("b.go")
	other, err := svc.CreateFile(ctx, CreateFileRequest{RoomID: "r-2", Name: "c.go"})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	if err := svc.DeleteRoomFiles(ctx, "r-1", "u-a"); err != nil {
		t.Fatalf("DeleteRoomFiles() error = %v", err)
	}
	files, _ := svc.ListFiles(ctx, "r-1")
	if len(files) != 0 {
		t.Fatalf("r-1 still has %d files", len(files))
	}
	if _, err := svc.GetFile(ctx, other.ID); err != nil {
		t.Fatalf("other room file gone: %v", err)
	}
}
