package ws

import (
	"sync"
	"testing"
)

func TestHub_JoinLeave(t *testing.T) {
	hub := NewHub()
	c := NewConn(nil, hub, nil, "u-a", "Alice")

	hub.Join("r-1", c)
	got := 0
	hub.Broadcast("r-1", ServerMessage{Type: "ping"})
	for len(c.send) > 0 {
		<-c.send
		got++
	}
	if got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}

	hub.Leave("r-1", c)
	hub.Broadcast("r-1", ServerMessage{Type: "ping"})
	if len(c.send) != 0 {
		t.Fatalf("message delivered after leave")
	}
}

// 广播撞上正在收尾的连接：不能 panic，消息直接丢掉
func TestHub_BroadcastRacesConnTeardown(t *testing.T) {
	hub := NewHub()
	c := NewConn(nil, hub, nil, "u-a", "Alice")
	hub.Join("r-1", c)

	// 连接已经关了 send，但还没来得及从 hub 摘掉
	c.closeSend()
	hub.Broadcast("r-1", ServerMessage{Type: "room_deleted", RoomID: "r-1"})
	hub.Leave("r-1", c)
}

func TestConn_EnqueueAfterCloseDropped(t *testing.T) {
	c := NewConn(nil, NewHub(), nil, "u-a", "Alice")

	c.enqueue(ServerMessage{Type: "welcome"})
	c.closeSend()
	c.enqueue(ServerMessage{Type: "late"})
	// 重复关闭幂等
	c.closeSend()

	var got []OutboundMessage
	for m := range c.send {
		got = append(got, m)
	}
	if len(got) != 1 || got[0].MessageType() != "welcome" {
		t.Fatalf("delivered = %v, want only the pre-close message", got)
	}
}

// 并发的广播、入队和关闭混在一起跑，靠 -race 兜底
func TestHub_ConcurrentBroadcastAndTeardown(t *testing.T) {
	hub := NewHub()
	conns := make([]*Conn, 8)
	for i := range conns {
		conns[i] = NewConn(nil, hub, nil, "u-a", "Alice")
		hub.Join("r-1", conns[i])
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Broadcast("r-1", ServerMessage{Type: "ping"})
			}
		}()
	}
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.closeSend()
			hub.Leave("r-1", c)
		}(c)
	}
	wg.Wait()
}
