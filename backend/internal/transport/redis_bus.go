package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 键语义：
// - subsKey(topic):         订阅者集合（Set<peerID>）
// - aliveKey(topic, peer):  订阅者心跳键（带 TTL，进程死掉后自动过期）
// - msgChannel(topic):      业务消息 pub/sub 通道
// - syncChannel(topic):     订阅变更通知通道，收到后各端重算全量在线列表
const (
	keySubsFmt  = "bus:subs:{topic:%s}"
	keyAliveFmt = "bus:alive:{topic:%s}:%s"
	chanMsgFmt  = "bus:msg:{topic:%s}"
	chanSyncFmt = "bus:sync:{topic:%s}"

	aliveTTL          = 45 * time.Second
	heartbeatInterval = 15 * time.Second
)

func subsKey(topic Topic) string               { return fmt.Sprintf(keySubsFmt, topic) }
func aliveKey(topic Topic, peer string) string { return fmt.Sprintf(keyAliveFmt, topic, peer) }
func msgChannel(topic Topic) string            { return fmt.Sprintf(chanMsgFmt, topic) }
func syncChannel(topic Topic) string           { return fmt.Sprintf(chanSyncFmt, topic) }

// 线上消息封皮，sender 带在信封里而不是业务 payload 里
type envelope struct {
	Sender  string `json:"sender"`
	Payload []byte `json:"payload"`
}

// RedisBus：跨进程实现。消息走 redis pub/sub（单 publisher 在单通道上天然有序），
// 订阅者名册走 Set + 心跳键，和在线成员表是一个套路
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

type redisSub struct {
	bus      *RedisBus
	topic    Topic
	peerID   string
	pubsub   *redis.PubSub
	messages chan Message
	syncs    chan []string
	done     chan struct{}
}

func (s *redisSub) Topic() Topic                  { return s.topic }
func (s *redisSub) Messages() <-chan Message      { return s.messages }
func (s *redisSub) PresenceSync() <-chan []string { return s.syncs }

func (b *RedisBus) Subscribe(ctx context.Context, topic Topic, peerID string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, msgChannel(topic), syncChannel(topic))
	// 等订阅确认，避免自己加入名册之后还没收到同步通知
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	pipe := b.rdb.Pipeline()
	pipe.SAdd(ctx, subsKey(topic), peerID)
	pipe.Set(ctx, aliveKey(topic, peerID), "1", aliveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSub{
		bus:      b,
		topic:    topic,
		peerID:   peerID,
		pubsub:   pubsub,
		messages: make(chan Message, 64),
		syncs:    make(chan []string, 16),
		done:     make(chan struct{}),
	}
	go sub.recvLoop()
	go sub.heartbeatLoop()

	// 通知所有订阅者（包括自己）重算名册
	if err := b.rdb.Publish(ctx, syncChannel(topic), peerID).Err(); err != nil {
		log.Printf("bus: publish sync notice failed topic=%s: %v", topic, err)
	}
	return sub, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic Topic, sender string, payload []byte) error {
	raw, err := json.Marshal(envelope{Sender: sender, Payload: payload})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, msgChannel(topic), raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

func (b *RedisBus) Unsubscribe(ctx context.Context, s Subscription) error {
	sub, ok := s.(*redisSub)
	if !ok {
		return ErrSubscriptionClosed
	}
	select {
	case <-sub.done:
		return nil
	default:
	}
	close(sub.done)

	pipe := b.rdb.Pipeline()
	pipe.SRem(ctx, subsKey(sub.topic), sub.peerID)
	pipe.Del(ctx, aliveKey(sub.topic, sub.peerID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("bus: deregister failed topic=%s peer=%s: %v", sub.topic, sub.peerID, err)
	}
	if err := b.rdb.Publish(ctx, syncChannel(sub.topic), sub.peerID).Err(); err != nil {
		log.Printf("bus: publish sync notice failed topic=%s: %v", sub.topic, err)
	}
	return sub.pubsub.Close()
}

func (s *redisSub) recvLoop() {
	defer close(s.messages)
	defer close(s.syncs)
	msgC := msgChannel(s.topic)
	for m := range s.pubsub.Channel() {
		switch m.Channel {
		case msgC:
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				log.Printf("bus: bad envelope topic=%s: %v", s.topic, err)
				continue
			}
			select {
			case s.messages <- Message{Topic: s.topic, Sender: env.Sender, Payload: env.Payload}:
			default:
				// 消费太慢就丢，光标类消息下一条马上覆盖
			}
		default: // sync 通道
			peers, err := s.bus.aliveSubscribers(context.Background(), s.topic)
			if err != nil {
				log.Printf("bus: recompute subscribers failed topic=%s: %v", s.topic, err)
				continue
			}
			select {
			case s.syncs <- peers:
			default:
			}
		}
	}
}

func (s *redisSub) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.bus.rdb.Set(ctx, aliveKey(s.topic, s.peerID), "1", aliveTTL).Err()
			cancel()
			if err != nil {
				log.Printf("bus: heartbeat failed topic=%s peer=%s: %v", s.topic, s.peerID, err)
			}
		}
	}
}

// aliveSubscribers：名册里的成员还要过一遍心跳键，过滤掉没正常退订的死进程
func (b *RedisBus) aliveSubscribers(ctx context.Context, topic Topic) ([]string, error) {
	members, err := b.rdb.SMembers(ctx, subsKey(topic)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	existsCmds := make([]*redis.IntCmd, 0, len(members))
	pipe := b.rdb.Pipeline()
	for _, peer := range members {
		existsCmds = append(existsCmds, pipe.Exists(ctx, aliveKey(topic, peer)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	alive := make([]string, 0, len(members))
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			alive = append(alive, members[i])
		}
	}
	return alive, nil
}
