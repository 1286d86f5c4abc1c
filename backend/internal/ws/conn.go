package ws

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"coderoom/backend/internal/cursor"
	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/session"
	"coderoom/backend/internal/store"
)

// Conn：一个 ws 连接对应一个 peer 会话。
// 进房间之前 sess 为 nil，文件操作直接打 filesync；
// 进了房间之后编辑走会话的变更队列
type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	mgr      *Manager
	peerID   string
	name     string
	roomID   string
	sess     *session.Session
	teardown []func()

	// sendMu 保护 send 的关闭状态：hub 广播和会话事件都可能在
	// readLoop 退出之后才摸到这个连接，往关了的通道里写会炸掉整个进程
	sendMu     sync.Mutex
	sendClosed bool
	send       chan OutboundMessage
}

func NewConn(wsc *websocket.Conn, hub *Hub, mgr *Manager, peerID, name string) *Conn {
	return &Conn{ws: wsc, hub: hub, mgr: mgr, peerID: peerID, name: name, send: make(chan OutboundMessage, 32)}
}

func (c *Conn) enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		// 连接已经在收尾，迟到的消息直接丢
		return
	}
	select {
	case c.send <- msg:
	default:
		// 队列满了就丢，presence/cursor 这类消息下一条马上覆盖
	}
}

// closeSend：和 enqueue 拿同一把锁，保证没有写操作跨过关闭点
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (c *Conn) writeLoop() {
	// 持续消费通道里的出站消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.leaveRoom(ctx)
		c.closeSend()
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (peer=%s room=%s): %v", c.peerID, c.roomID, err)
			return
		}
		switch msg.Type {
		case "heartbeat":
			c.enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		case "joinRoom":
			c.handleJoinRoom(ctx, msg.RoomID)

		case "cursor":
			if c.sess == nil {
				c.enqueue(ServerMessage{Type: "error", Content: "NOT_IN_ROOM"})
				continue
			}
			if msg.FileID != "" {
				c.sess.OpenFile(msg.FileID)
			}
			if err := c.sess.MoveCursor(ctx, msg.Line, msg.Column, msg.Selection); err != nil {
				log.Printf("cursor broadcast error (peer=%s): %v", c.peerID, err)
			}

		case "edit":
			if c.sess == nil {
				c.enqueue(ServerMessage{Type: "error", Content: "NOT_IN_ROOM"})
				continue
			}
			c.sess.Edit(msg.FileID, msg.Content, msg.BaseVersion)

		case "save":
			if c.sess != nil {
				c.sess.Save(ctx)
				c.enqueue(ServerMessage{Type: "saved"})
			}

		case "createFile":
			f, err := c.mgr.files.CreateFile(ctx, filesync.CreateFileRequest{
				RoomID:    c.roomID,
				Name:      msg.Name,
				Path:      msg.Path,
				Content:   msg.Content,
				CreatorID: c.peerID,
			})
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", Content: errCode(err)})
				continue
			}
			c.enqueue(FileMessage{Type: "file_created", File: f, ID: f.ID})

		case "getFile":
			f, err := c.mgr.files.GetFile(ctx, msg.FileID)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", Content: errCode(err)})
				continue
			}
			c.enqueue(FileMessage{Type: "file", File: f, ID: f.ID})

		case "listFiles":
			files, err := c.mgr.files.ListFiles(ctx, c.roomID)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", Content: errCode(err)})
				continue
			}
			c.enqueue(FileListMessage{Type: "files", Files: files})

		case "renameFile":
			f, err := c.mgr.files.RenameFile(ctx, msg.FileID, msg.Name, msg.Path, c.peerID)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", Content: errCode(err)})
				continue
			}
			c.enqueue(FileMessage{Type: "file_updated", File: f, ID: f.ID})

		case "deleteFile":
			if err := c.mgr.files.DeleteFile(ctx, msg.FileID, c.peerID); err != nil {
				c.enqueue(ServerMessage{Type: "error", Content: errCode(err)})
				continue
			}
			c.enqueue(FileMessage{Type: "file_deleted", ID: msg.FileID})

		default:
			// 未知类型回一条提示，不断连接
			c.enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

// handleJoinRoom：换房间先退旧的。会话事件接到 ws 出站队列上，
// 退订函数攒在 teardown 里，离开时统一拆
func (c *Conn) handleJoinRoom(ctx context.Context, roomID string) {
	if roomID == "" {
		c.enqueue(ServerMessage{Type: "error", Content: "MISSING_ROOM_ID"})
		return
	}
	if c.sess != nil && c.roomID != roomID {
		c.leaveRoom(ctx)
	}
	if c.sess != nil {
		c.enqueue(ServerMessage{Type: "joinRoom", RoomID: roomID, Content: "already joined"})
		return
	}

	sess := c.mgr.NewSession(roomID, c.peerID, c.name)
	if err := sess.Start(ctx); err != nil {
		c.enqueue(ServerMessage{Type: "error", Content: errCode(err)})
		return
	}
	c.sess = sess
	c.roomID = roomID
	c.hub.Join(roomID, c)

	offEvents := sess.Events().Subscribe(func(evt session.Event) {
		c.forwardEvent(roomID, evt)
	})
	offCursor := sess.OnCursor(func(s cursor.State) {
		c.enqueue(CursorMessage{Type: "cursor", RoomID: roomID, State: s})
	})
	c.teardown = append(c.teardown, offEvents, offCursor)

	c.enqueue(ServerMessage{Type: "joinRoom", RoomID: roomID, Content: "joined"})
	c.enqueue(PresenceMessage{Type: "presence", RoomID: roomID, Members: sess.Peers()})
}

func (c *Conn) forwardEvent(roomID string, evt session.Event) {
	switch evt.Type {
	case session.EventPresenceChanged:
		c.enqueue(PresenceMessage{Type: "presence", RoomID: roomID, Members: evt.Peers})
	case session.EventFileCreated:
		c.enqueue(FileMessage{Type: "file_created", File: evt.File, ID: evt.FileID})
	case session.EventFileUpdated:
		c.enqueue(FileMessage{Type: "file_updated", File: evt.File, ID: evt.FileID})
	case session.EventFileDeleted:
		c.enqueue(FileMessage{Type: "file_deleted", ID: evt.FileID})
	case session.EventConflictDetected:
		c.enqueue(ConflictMessage{Type: "conflict", Report: evt.Report, File: evt.File})
	case session.EventSyncError:
		c.enqueue(ServerMessage{Type: "sync_error", FileID: evt.FileID, Content: evt.Err.Error()})
	}
}

func (c *Conn) leaveRoom(ctx context.Context) {
	if c.sess == nil {
		return
	}
	for _, off := range c.teardown {
		off()
	}
	c.teardown = nil
	if err := c.sess.Close(ctx); err != nil {
		log.Printf("session close error (peer=%s room=%s): %v", c.peerID, c.roomID, err)
	}
	c.hub.Leave(c.roomID, c)
	c.sess = nil
	c.roomID = ""
}

// errCode：对外只给错误码，内部细节留在日志里
func errCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "FILE_NOT_FOUND"
	case errors.Is(err, filesync.ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, session.ErrNotAuthenticated):
		return "NOT_AUTHENTICATED"
	case errors.Is(err, session.ErrNotRoomMember):
		return "NOT_ROOM_MEMBER"
	default:
		return err.Error()
	}
}
