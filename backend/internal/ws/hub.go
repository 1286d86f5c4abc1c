package ws

import "sync"

// Hub 只做连接簿记：哪个房间挂着哪些 ws 连接。
// 业务事件各连接从自己会话的订阅里拿，hub 负责的是服务端主动通知
// （比如房间被删）这类要按房间扇出的消息
type Hub struct {
	mu sync.RWMutex
	// roomID -> set of connections
	// 存的是连接不是 peerID：一个 peer 可以开多个标签页，广播要逐连接发
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(roomID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Conn]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

func (h *Hub) Leave(roomID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) Broadcast(roomID string, msg OutboundMessage) {
	// 锁内拷贝一份连接列表再发，不能拿着原 map 在锁外迭代（和 Leave 竞争）
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(msg)
	}
}
