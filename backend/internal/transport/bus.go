package transport

import (
	"context"
	"errors"
	"fmt"
)

// Topic 命名规则：每个房间三个通道，presence / cursor / file 分开，
// 避免一个通道里混多种消息还要二次分发
const (
	topicPresenceFmt = "room:{%s}:presence"
	topicCursorFmt   = "room:{%s}:cursor"
	topicFileFmt     = "room:{%s}:file"
)

type Topic string

func PresenceTopic(roomID string) Topic { return Topic(fmt.Sprintf(topicPresenceFmt, roomID)) }
func CursorTopic(roomID string) Topic   { return Topic(fmt.Sprintf(topicCursorFmt, roomID)) }
func FileTopic(roomID string) Topic     { return Topic(fmt.Sprintf(topicFileFmt, roomID)) }

var (
	ErrSubscriptionClosed = errors.New("SUBSCRIPTION_CLOSED")
	ErrPublishFailed      = errors.New("PUBLISH_FAILED")
)

type Message struct {
	Topic   Topic  `json:"topic"`
	Sender  string `json:"sender"` // peerID
	Payload []byte `json:"payload"`
}

// Subscription 的事件用通道暴露，而不是回调：
// 消费方自己决定在哪个 goroutine 里处理，取消订阅后通道关闭，生命周期显式可见
type Subscription interface {
	Topic() Topic
	// 同一 sender 的消息按发送顺序到达；跨 sender 不保证顺序
	Messages() <-chan Message
	// 每次有订阅者加入/离开，推送一份当前订阅者 peerID 全量列表
	PresenceSync() <-chan []string
}

type Bus interface {
	Subscribe(ctx context.Context, topic Topic, peerID string) (Subscription, error)
	Publish(ctx context.Context, topic Topic, sender string, payload []byte) error
	Unsubscribe(ctx context.Context, sub Subscription) error
}
