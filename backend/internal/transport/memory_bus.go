package transport

import (
	"context"
	"sync"
)

// MemoryBus：进程内实现，测试和本地单机开发用。
// 语义与 redis 实现对齐：至少一次、同 sender 有序、订阅变化推全量列表
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[Topic]map[*memorySub]struct{}
}

type memorySub struct {
	topic    Topic
	peerID   string
	messages chan Message
	syncs    chan []string
	closed   bool
}

func (s *memorySub) Topic() Topic                  { return s.topic }
func (s *memorySub) Messages() <-chan Message      { return s.messages }
func (s *memorySub) PresenceSync() <-chan []string { return s.syncs }

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[Topic]map[*memorySub]struct{})}
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic, peerID string) (Subscription, error) {
	sub := &memorySub{
		topic:    topic,
		peerID:   peerID,
		messages: make(chan Message, 64),
		syncs:    make(chan []string, 16),
	}
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.notifySyncLocked(topic)
	b.mu.Unlock()
	return sub, nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic Topic, sender string, payload []byte) error {
	msg := Message{Topic: topic, Sender: sender, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		// 队列满则丢弃，不能让慢订阅者阻塞发布方
		select {
		case sub.messages <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Unsubscribe(ctx context.Context, s Subscription) error {
	sub, ok := s.(*memorySub)
	if !ok {
		return ErrSubscriptionClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return nil
	}
	sub.closed = true
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	close(sub.messages)
	close(sub.syncs)
	b.notifySyncLocked(sub.topic)
	return nil
}

// Subscribers 返回某个 topic 当前订阅者，测试断言用
func (b *MemoryBus) Subscribers(topic Topic) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribersLocked(topic)
}

func (b *MemoryBus) subscribersLocked(topic Topic) []string {
	peers := make([]string, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		peers = append(peers, sub.peerID)
	}
	return peers
}

func (b *MemoryBus) notifySyncLocked(topic Topic) {
	peers := b.subscribersLocked(topic)
	for sub := range b.topics[topic] {
		select {
		case sub.syncs <- peers:
		default:
		}
	}
}
