package cursor

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"

	"coderoom/backend/internal/transport"
)

type Range struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// State：某个 peer 最近一次广播的光标。没有序列号，后到覆盖先到
// （同一 peer 的消息按发送顺序到达，靠 transport 的单 publisher 有序保证）
type State struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
	FileID      string `json:"fileId"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Selection   *Range `json:"selection,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Surface：编辑器绘制面。Render 只负责把远端光标的增删改打到面上，
// 怎么画是 UI 的事
type Surface interface {
	UpsertCursor(s State)
	ClearCursor(peerID string)
}

// Channel：一个房间的光标广播通道。每次本地光标移动发一条消息，
// 不做防抖合并，通道就是设计成话多的
type Channel struct {
	bus         transport.Bus
	roomID      string
	peerID      string
	displayName string

	mu         sync.RWMutex
	sub        transport.Subscription
	activeFile string
	remote     map[string]State
	rendered   map[string]struct{} // 当前画在面上的 peerID
	listeners  map[int]func(State)
	nextID     int
	started    bool
}

func NewChannel(bus transport.Bus, roomID, peerID, displayName string) *Channel {
	return &Channel{
		bus:         bus,
		roomID:      roomID,
		peerID:      peerID,
		displayName: displayName,
		remote:      make(map[string]State),
		rendered:    make(map[string]struct{}),
		listeners:   make(map[int]func(State)),
	}
}

// OnCursor 注册远端光标更新的监听，返回的函数用于退订
func (c *Channel) OnCursor(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Channel) Start(ctx context.Context) error {
	// started 先占位再订阅，并发进来的第二个 Start 直接返回，不会重复订阅
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	sub, err := c.bus.Subscribe(ctx, transport.CursorTopic(c.roomID), c.peerID)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	go c.recvLoop(sub)
	return nil
}

func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		// Start 占了位但订阅还没落地
		return nil
	}
	return c.bus.Unsubscribe(ctx, sub)
}

// SetActiveFile 切换本地正在编辑的文件；别的文件上的远端光标照样记着，只是不画
func (c *Channel) SetActiveFile(fileID string) {
	c.mu.Lock()
	c.activeFile = fileID
	c.mu.Unlock()
}

// Broadcast 把本地光标发出去。selection 可空
func (c *Channel) Broadcast(ctx context.Context, line, column int, selection *Range) error {
	c.mu.RLock()
	fileID := c.activeFile
	c.mu.RUnlock()
	s := State{
		PeerID:      c.peerID,
		DisplayName: c.displayName,
		FileID:      fileID,
		Line:        line,
		Column:      column,
		Selection:   selection,
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, transport.CursorTopic(c.roomID), c.peerID, payload)
}

func (c *Channel) recvLoop(sub transport.Subscription) {
	for m := range sub.Messages() {
		if m.Sender == c.peerID {
			continue // 自己的广播不回流
		}
		var s State
		if err := json.Unmarshal(m.Payload, &s); err != nil {
			log.Printf("cursor: bad message from %s: %v", m.Sender, err)
			continue
		}
		// 颜色在接收端算，不信发送端带过来的
		s.Color = ColorFor(s.PeerID)
		c.mu.Lock()
		c.remote[s.PeerID] = s
		fns := make([]func(State), 0, len(c.listeners))
		for _, fn := range c.listeners {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(s)
		}
	}
}

// Collaborators 返回所有远端光标（含不在当前文件上的）
func (c *Channel) Collaborators() []State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]State, 0, len(c.remote))
	for _, s := range c.remote {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Prune：presence 变化后调用，把已离线 peer 的光标删掉，不留幽灵光标
func (c *Channel) Prune(livePeers []string) {
	alive := make(map[string]struct{}, len(livePeers))
	for _, id := range livePeers {
		alive[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.remote {
		if _, ok := alive[id]; !ok {
			delete(c.remote, id)
		}
	}
}

// Render 把远端光标同步到绘制面：当前文件的画上去，
// 切走的、离线的清掉
func (c *Channel) Render(surface Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	visible := make(map[string]struct{}, len(c.remote))
	for id, s := range c.remote {
		if s.FileID != c.activeFile {
			continue
		}
		visible[id] = struct{}{}
		surface.UpsertCursor(s)
	}
	for id := range c.rendered {
		if _, ok := visible[id]; !ok {
			surface.ClearCursor(id)
		}
	}
	c.rendered = visible
}
