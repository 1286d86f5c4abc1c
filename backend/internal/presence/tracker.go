package presence

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"coderoom/backend/internal/transport"
)

// Entry：一个在线成员。临时状态，只活在内存里，不落库
type Entry struct {
	PeerID      string    `json:"peerId"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// hello 心跳：join 后立刻广播一次，让其他人知道自己的名字。
// 在线与否不看这条消息，看的是 transport 的订阅者名册
type hello struct {
	PeerID      string    `json:"peerId"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Tracker 维护一个房间的在线成员集合。
// 成员集合完全由 transport 的 presence-sync 重建，tracker 自己不做超时判定，
// 所以不存在需要对账的本地漂移
type Tracker struct {
	bus         transport.Bus
	roomID      string
	peerID      string
	displayName string

	mu        sync.RWMutex
	sub       transport.Subscription
	live      map[string]Entry
	names     map[string]hello // peerID -> 最近一次 hello（名字可能晚于 sync 到）
	listeners map[int]func([]Entry)
	nextID    int
	joined    bool
}

func NewTracker(bus transport.Bus, roomID, peerID, displayName string) *Tracker {
	return &Tracker{
		bus:         bus,
		roomID:      roomID,
		peerID:      peerID,
		displayName: displayName,
		live:        make(map[string]Entry),
		names:       make(map[string]hello),
		listeners:   make(map[int]func([]Entry)),
	}
}

func (t *Tracker) Join(ctx context.Context) error {
	// joined 先占位再订阅，并发进来的第二个 Join 直接返回，不会重复订阅
	t.mu.Lock()
	if t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = true
	t.mu.Unlock()

	sub, err := t.bus.Subscribe(ctx, transport.PresenceTopic(t.roomID), t.peerID)
	if err != nil {
		t.mu.Lock()
		t.joined = false
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.sub = sub
	// 自己的名字自己先记上，不等回环的 hello
	t.names[t.peerID] = hello{PeerID: t.peerID, DisplayName: t.displayName, JoinedAt: time.Now()}
	t.mu.Unlock()

	go t.loop(sub)

	payload, err := json.Marshal(hello{PeerID: t.peerID, DisplayName: t.displayName, JoinedAt: time.Now()})
	if err != nil {
		return err
	}
	return t.bus.Publish(ctx, transport.PresenceTopic(t.roomID), t.peerID, payload)
}

func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = false
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub == nil {
		// Join 占了位但订阅还没落地
		return nil
	}
	// 退订会触发远端的 presence-sync，远端在线集合随之更新
	return t.bus.Unsubscribe(ctx, sub)
}

func (t *Tracker) loop(sub transport.Subscription) {
	msgs := sub.Messages()
	syncs := sub.PresenceSync()
	for msgs != nil || syncs != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			var h hello
			if err := json.Unmarshal(m.Payload, &h); err != nil {
				log.Printf("presence: bad hello from %s: %v", m.Sender, err)
				continue
			}
			t.mu.Lock()
			t.names[h.PeerID] = h
			// 名字补到已在线的成员上
			if e, ok := t.live[h.PeerID]; ok && e.DisplayName != h.DisplayName {
				e.DisplayName = h.DisplayName
				e.JoinedAt = h.JoinedAt
				t.live[h.PeerID] = e
				t.notifyLocked()
			}
			t.mu.Unlock()
		case peers, ok := <-syncs:
			if !ok {
				syncs = nil
				continue
			}
			t.applySync(peers)
		}
	}
}

// applySync：用名册全量重建在线集合，离开的成员顺手从名字表里清掉
func (t *Tracker) applySync(peers []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[string]Entry, len(peers))
	for _, id := range peers {
		if e, ok := t.live[id]; ok {
			next[id] = e
			continue
		}
		entry := Entry{PeerID: id, JoinedAt: time.Now()}
		if h, ok := t.names[id]; ok {
			entry.DisplayName = h.DisplayName
			entry.JoinedAt = h.JoinedAt
		}
		next[id] = entry
	}
	for id := range t.names {
		if _, ok := next[id]; !ok && id != t.peerID {
			delete(t.names, id)
		}
	}
	t.live = next
	t.notifyLocked()
}

func (t *Tracker) CurrentPeers() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// OnPresenceChanged 注册监听，返回的函数用于显式退订
func (t *Tracker) OnPresenceChanged(fn func([]Entry)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(t.live))
	for _, e := range t.live {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (t *Tracker) notifyLocked() {
	snapshot := t.snapshotLocked()
	for _, fn := range t.listeners {
		go fn(snapshot)
	}
}
