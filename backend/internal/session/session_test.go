package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"coderoom/backend/internal/directory"
	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/store"
	"coderoom/backend/internal/syncqueue"
	"coderoom/backend/internal/transport"
)

type fixture struct {
	bus   *transport.MemoryBus
	dir   *directory.MemoryDirectory
	files *filesync.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := transport.NewMemoryBus()
	dir := directory.NewMemoryDirectory()
	files := filesync.NewService(store.NewMemoryFileStore(), nil, bus, nil)

	room := &directory.Room{ID: "r-1", Name: "standup", OwnerID: "u-a"}
	if err := dir.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if err := dir.AddMember(context.Background(), "r-1", "u-a"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if err := dir.AddMember(context.Background(), "r-1", "u-b"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	return &fixture{bus: bus, dir: dir, files: files}
}

func (fx *fixture) newSession(t *testing.T, peerID, name string) *Session {
	t.Helper()
	s := New(Options{
		RoomID:      "r-1",
		PeerID:      peerID,
		DisplayName: name,
		Queue:       syncqueue.Options{BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}, fx.dir, fx.bus, fx.files)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s) error = %v", peerID, err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func collectEvents(s *Session) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	off := s.Events().Subscribe(func(evt Event) { ch <- evt })
	return ch, off
}

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event within 2s", want)
		}
	}
}

func TestSession_StartRequiresIdentity(t *testing.T) {
	fx := newFixture(t)
	s := New(Options{RoomID: "r-1", PeerID: ""}, fx.dir, fx.bus, fx.files)
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Start() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestSession_StartRejectsNonMember(t *testing.T) {
	fx := newFixture(t)
	room := &directory.Room{ID: "r-2", Name: "private", Private: true, OwnerID: "u-a"}
	if err := fx.dir.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	s := New(Options{RoomID: "r-2", PeerID: "u-x", DisplayName: "X"}, fx.dir, fx.bus, fx.files)
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("Start() error = %v, want ErrNotRoomMember", err)
	}
}

func TestSession_StartUnknownRoom(t *testing.T) {
	fx := newFixture(t)
	s := New(Options{RoomID: "r-missing", PeerID: "u-a"}, fx.dir, fx.bus, fx.files)
	if err := s.Start(context.Background()); !errors.Is(err, directory.ErrRoomNotFound) {
		t.Fatalf("Start() error = %v, want ErrRoomNotFound", err)
	}
}

func TestSession_PresencePropagates(t *testing.T) {
	fx := newFixture(t)
	a := fx.newSession(t, "u-a", "Alice")
	events, off := collectEvents(a)
	defer off()

	b := fx.newSession(t, "u-b", "Bob")
	_ = b

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type != EventPresenceChanged {
				continue
			}
			for _, e := range evt.Peers {
				if e.PeerID == "u-b" {
					return
				}
			}
		case <-deadline:
			t.Fatal("u-a never saw u-b in presence")
		}
	}
}

// 一个 peer 编辑落库后，房间里所有会话（包括自己）都收到确认过的提交
func TestSession_EditPropagatesToPeers(t *testing.T) {
	fx := newFixture(t)
	a := fx.newSession(t, "u-a", "Alice")
	b := fx.newSession(t, "u-b", "Bob")

	f, err := fx.files.CreateFile(context.Background(), filesync.CreateFileRequest{
		RoomID: "r-1", Name: "main.go", Content: "package main", CreatorID: "u-a",
	})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	bEvents, offB := collectEvents(b)
	defer offB()
	aEvents, offA := collectEvents(a)
	defer offA()

	a.Edit(f.ID, "package main // edited", 1)
	a.Save(context.Background())

	for _, ch := range []<-chan Event{bEvents, aEvents} {
		evt := waitEvent(t, ch, EventFileUpdated)
		if evt.File == nil || evt.File.Version != 2 || evt.File.Content != "package main // edited" {
			t.Fatalf("file event = %+v", evt.File)
		}
	}
}

// 基于旧版本的编辑：冲突事件带着报告和权威状态，且不会吃掉别人已提交的内容
func TestSession_ConflictSurfacesWithReport(t *testing.T) {
	fx := newFixture(t)
	a := fx.newSession(t, "u-a", "Alice")
	b := fx.newSession(t, "u-b", "Bob")

	f, err := fx.files.CreateFile(context.Background(), filesync.CreateFileRequest{
		RoomID: "r-1", Name: "main.js", Content: "a", CreatorID: "u-a",
	})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	// B 先基于 v1 提交成功
	b.Edit(f.ID, "ab", 1)
	b.Save(context.Background())

	aEvents, offA := collectEvents(a)
	defer offA()

	// 等 B 的提交落库，A 再拿着过期的 v1 提交
	deadline := time.Now().Add(2 * time.Second)
	for {
		cur, err := fx.files.GetFile(context.Background(), f.ID)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if cur.Version == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first edit never committed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.Edit(f.ID, "ac", 1)
	a.Save(context.Background())

	evt := waitEvent(t, aEvents, EventConflictDetected)
	if evt.Report == nil {
		t.Fatal("conflict event without report")
	}
	if evt.Report.BaseVersion != 1 || evt.Report.CurrentVersion != 2 {
		t.Fatalf("report = base=%d current=%d, want 1/2", evt.Report.BaseVersion, evt.Report.CurrentVersion)
	}
	if evt.Report.RejectedContent != "ac" {
		t.Fatalf("RejectedContent = %q", evt.Report.RejectedContent)
	}
	if evt.File == nil || evt.File.Content != "ab" || evt.File.Version != 2 {
		t.Fatalf("authoritative file = %+v", evt.File)
	}

	// 冲突不自动重写存储，文件保持 B 的提交
	cur, _ := fx.files.GetFile(context.Background(), f.ID)
	if cur.Content != "ab" || cur.Version != 2 {
		t.Fatalf("store state = {v%d %q}, want {v2 ab}", cur.Version, cur.Content)
	}
}

func TestSession_EditMissingFileIsPermanent(t *testing.T) {
	fx := newFixture(t)
	a := fx.newSession(t, "u-a", "Alice")
	events, off := collectEvents(a)
	defer off()

	a.Edit("f-missing", "x", 1)
	a.Save(context.Background())

	evt := waitEvent(t, events, EventSyncError)
	if evt.FileID != "f-missing" {
		t.Fatalf("FileID = %q", evt.FileID)
	}
	if !errors.Is(evt.Err, syncqueue.ErrPermanent) {
		t.Fatalf("Err = %v, want ErrPermanent", evt.Err)
	}
}

func TestSession_CloseLeavesPresence(t *testing.T) {
	fx := newFixture(t)
	a := fx.newSession(t, "u-a", "Alice")
	b := fx.newSession(t, "u-b", "Bob")

	aEvents, off := collectEvents(a)
	defer off()

	// 等 A 看到 B 在线再让 B 离开
	deadline := time.Now().Add(2 * time.Second)
	for {
		peers := a.Peers()
		found := false
		for _, e := range peers {
			if e.PeerID == "u-b" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("u-a never saw u-b")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deadline2 := time.After(2 * time.Second)
	for {
		select {
		case evt := <-aEvents:
			if evt.Type != EventPresenceChanged {
				continue
			}
			stillThere := false
			for _, e := range evt.Peers {
				if e.PeerID == "u-b" {
					stillThere = true
				}
			}
			if !stillThere {
				return
			}
		case <-deadline2:
			t.Fatal("u-b never left u-a's presence view")
		}
	}
}
