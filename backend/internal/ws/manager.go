package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"coderoom/backend/internal/directory"
	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/session"
	"coderoom/backend/internal/syncqueue"
	"coderoom/backend/internal/transport"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager：ws 入口。为每个进房间的连接构造一个独立会话实例
type Manager struct {
	dir      directory.Directory
	bus      transport.Bus
	files    *filesync.Service
	queueOpt syncqueue.Options
}

func NewManager(dir directory.Directory, bus transport.Bus, files *filesync.Service, queueOpt syncqueue.Options) *Manager {
	return &Manager{dir: dir, bus: bus, files: files, queueOpt: queueOpt}
}

func (m *Manager) NewSession(roomID, peerID, displayName string) *session.Session {
	return session.New(session.Options{
		RoomID:      roomID,
		PeerID:      peerID,
		DisplayName: displayName,
		Queue:       m.queueOpt,
	}, m.dir, m.bus, m.files)
}

// WebSocketConnect：身份由 identity 中间件写进 gin.Context，
// 没有身份的连接直接拒绝（会话本来也起不来）
func (m *Manager) WebSocketConnect(c *gin.Context, hub *Hub) {
	peerID := c.GetString("peerId")
	displayName := c.GetString("displayName")
	if peerID == "" {
		c.String(http.StatusUnauthorized, "NOT_AUTHENTICATED")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, hub, m, peerID, displayName)

	// 先启动写循环，保证后面写进 send 通道的消息能及时发出去
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: "welcome", Content: "connected as " + displayName})

	// 读循环阻塞到连接关闭
	wsConn.readLoop(c.Request.Context())
}
