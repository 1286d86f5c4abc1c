package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"coderoom/backend/internal/cursor"
	"coderoom/backend/internal/directory"
	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/presence"
	"coderoom/backend/internal/store"
	"coderoom/backend/internal/syncqueue"
	"coderoom/backend/internal/transport"
)

var (
	// 没有 peer 身份，会话起不来，立即报出去
	ErrNotAuthenticated = errors.New("NOT_AUTHENTICATED")
	ErrNotRoomMember    = errors.New("NOT_ROOM_MEMBER")
)

type Options struct {
	RoomID      string
	PeerID      string
	DisplayName string
	Queue       syncqueue.Options
}

// Session：一个 peer 在一个房间里的活动会话。
// 依赖全部注入，每个会话拥有自己的 Tracker / Channel / Queue 实例，
// 没有进程级单例
type Session struct {
	opts    Options
	dir     directory.Directory
	bus     transport.Bus
	files   *filesync.Service
	tracker *presence.Tracker
	cursors *cursor.Channel
	queue   *syncqueue.Queue
	events  *Emitter

	fileSub        transport.Subscription
	removePresence func()
	started        bool
}

func New(opts Options, dir directory.Directory, bus transport.Bus, files *filesync.Service) *Session {
	s := &Session{
		opts:    opts,
		dir:     dir,
		bus:     bus,
		files:   files,
		tracker: presence.NewTracker(bus, opts.RoomID, opts.PeerID, opts.DisplayName),
		cursors: cursor.NewChannel(bus, opts.RoomID, opts.PeerID, opts.DisplayName),
		events:  NewEmitter(),
	}
	qopt := opts.Queue
	qopt.OnError = s.onFlushError
	s.queue = syncqueue.NewQueue(&sessionFlusher{s: s}, qopt)
	return s
}

// Start：入场顺序固定——先验资格，再进 presence，再开光标通道，最后挂文件事件
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	if s.opts.PeerID == "" {
		return ErrNotAuthenticated
	}

	room, err := s.dir.GetRoom(ctx, s.opts.RoomID)
	if err != nil {
		return err
	}
	members, err := s.dir.ListMembers(ctx, s.opts.RoomID)
	if err != nil {
		return err
	}
	if !directory.Entitled(room, members, s.opts.PeerID) {
		return ErrNotRoomMember
	}

	if err := s.tracker.Join(ctx); err != nil {
		return err
	}
	// presence 变了：清掉离线 peer 的光标，再把新集合发给订阅方
	s.removePresence = s.tracker.OnPresenceChanged(func(entries []presence.Entry) {
		live := make([]string, len(entries))
		for i, e := range entries {
			live[i] = e.PeerID
		}
		s.cursors.Prune(live)
		s.events.emit(Event{Type: EventPresenceChanged, Peers: entries})
	})

	if err := s.cursors.Start(ctx); err != nil {
		_ = s.tracker.Leave(ctx)
		return err
	}

	sub, err := s.bus.Subscribe(ctx, transport.FileTopic(s.opts.RoomID), s.opts.PeerID)
	if err != nil {
		_ = s.cursors.Close(ctx)
		_ = s.tracker.Leave(ctx)
		return err
	}
	s.fileSub = sub
	go s.fileLoop(sub)

	s.started = true
	s.events.emit(Event{Type: EventConnectionStatus, Connected: true})
	return nil
}

// Close：presence 退订立即对远端可见；在途的同步请求让它自己跑完或失败，
// 不强行取消，免得文件版本停在说不清的状态
func (s *Session) Close(ctx context.Context) error {
	if !s.started {
		return nil
	}
	s.started = false
	if s.removePresence != nil {
		s.removePresence()
	}
	var firstErr error
	if err := s.cursors.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.tracker.Leave(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.fileSub != nil {
		if err := s.bus.Unsubscribe(ctx, s.fileSub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.events.emit(Event{Type: EventConnectionStatus, Connected: false})
	return firstErr
}

// Edit：本地编辑进队列，什么时候真正提交由队列的状态机决定
func (s *Session) Edit(fileID, content string, baseVersion uint64) {
	s.queue.Enqueue(syncqueue.Change{
		FileID:      fileID,
		Content:     content,
		BaseVersion: baseVersion,
		PeerID:      s.opts.PeerID,
	})
}

// Save：显式保存，所有待发文件立刻冲出去
func (s *Session) Save(ctx context.Context) {
	s.queue.ForceFlush(ctx)
}

func (s *Session) OpenFile(fileID string) {
	s.cursors.SetActiveFile(fileID)
}

func (s *Session) MoveCursor(ctx context.Context, line, column int, selection *cursor.Range) error {
	return s.cursors.Broadcast(ctx, line, column, selection)
}

func (s *Session) OnCursor(fn func(cursor.State)) func() { return s.cursors.OnCursor(fn) }

func (s *Session) Peers() []presence.Entry       { return s.tracker.CurrentPeers() }
func (s *Session) Collaborators() []cursor.State { return s.cursors.Collaborators() }
func (s *Session) QueueStatus() syncqueue.Status { return s.queue.Status() }
func (s *Session) Events() *Emitter              { return s.events }
func (s *Session) Files() *filesync.Service      { return s.files }
func (s *Session) RoomID() string                { return s.opts.RoomID }
func (s *Session) PeerID() string                { return s.opts.PeerID }

// fileLoop：消费房间 file topic 上确认过的提交，更新本地视图。
// 自己的提交也会回流一次，订阅方拿到的就是带新版本的权威状态
func (s *Session) fileLoop(sub transport.Subscription) {
	for m := range sub.Messages() {
		evt, err := filesync.ParseFileEvent(m.Payload)
		if err != nil {
			log.Printf("session: bad file event from %s: %v", m.Sender, err)
			continue
		}
		switch evt.EventType {
		case filesync.EventFileCreated:
			s.events.emit(Event{Type: EventFileCreated, File: eventFile(evt), FileID: evt.FileID})
		case filesync.EventFileUpdated:
			s.events.emit(Event{Type: EventFileUpdated, File: eventFile(evt), FileID: evt.FileID})
		case filesync.EventFileDeleted:
			// 级联：文件没了，打开它的 peer 把它从打开集合里摘掉
			s.events.emit(Event{Type: EventFileDeleted, FileID: evt.FileID})
		}
	}
}

func eventFile(evt *filesync.FileEvent) *store.CollaborationFile {
	return &store.CollaborationFile{
		ID:       evt.FileID,
		RoomID:   evt.RoomID,
		Name:     evt.Name,
		Path:     evt.Path,
		Content:  evt.Content,
		Language: evt.Language,
		Version:  evt.Version,
	}
}

// onFlushError：队列的永久失败出口。冲突在 Flush 里已经带报告发过事件，
// 这里只把传输类的最终失败报出去
func (s *Session) onFlushError(ch syncqueue.Change, err error) {
	if errors.Is(err, syncqueue.ErrConflict) {
		return
	}
	s.events.emit(Event{Type: EventSyncError, FileID: ch.FileID, Err: err})
}

// sessionFlusher：把队列的 Flush 接到文件同步服务的提交点上
type sessionFlusher struct {
	s *Session
}

func (f *sessionFlusher) Flush(ctx context.Context, ch syncqueue.Change) error {
	file, report, err := f.s.files.UpdateFile(ctx, ch.FileID, filesync.UpdateFileRequest{
		Content:  ch.Content,
		Version:  ch.BaseVersion,
		AuthorID: ch.PeerID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, filesync.ErrValidation) {
			return fmt.Errorf("%w: %v", syncqueue.ErrPermanent, err)
		}
		return err // 传输/存储抖动，队列负责退避重试
	}
	if report != nil {
		// 冲突带着权威状态一起报，调用方不用再查一次就能做选择
		f.s.events.emit(Event{Type: EventConflictDetected, FileID: ch.FileID, File: file, Report: report})
		return fmt.Errorf("%w: file=%s base=%d current=%d",
			syncqueue.ErrConflict, ch.FileID, report.BaseVersion, report.CurrentVersion)
	}
	return nil
}
