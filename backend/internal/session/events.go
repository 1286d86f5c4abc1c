package session

import (
	"sync"

	"coderoom/backend/internal/conflict"
	"coderoom/backend/internal/presence"
	"coderoom/backend/internal/store"
)

type EventType string

const (
	EventFileCreated      EventType = "file_created"
	EventFileUpdated      EventType = "file_updated"
	EventFileDeleted      EventType = "file_deleted"
	EventConflictDetected EventType = "conflict_detected"
	EventSyncError        EventType = "sync_error"
	EventConnectionStatus EventType = "connection_status"
	EventPresenceChanged  EventType = "presence_changed"
)

// Event：会话对外的出站事件。按类型取对应字段，其他字段为零值
type Event struct {
	Type      EventType
	File      *store.CollaborationFile
	FileID    string
	Report    *conflict.Report
	Err       error
	Connected bool
	Peers     []presence.Entry
}

// Emitter：观察者表。支持多个订阅方，退订用返回的函数显式做，
// 不靠闭包生命周期兜底
type Emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(Event)
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]func(Event))}
}

func (e *Emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

func (e *Emitter) emit(evt Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.handlers))
	for _, fn := range e.handlers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}
