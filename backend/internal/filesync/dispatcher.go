package filesync

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// EventDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞提交主流程（提交侧只负责入队）
// - Kafka 短暂抖动时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（放弃入队），避免内存无限增长
type EventDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan FileEvent

	// limiter 限制并发的 SendMessage 数量
	limiter *sendLimiter

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type EventDispatcherOptions struct {
	QueueSize          int
	Workers            int
	MaxRetry           int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	MaxConcurrentSends int // 0 取默认值
}

func NewEventDispatcher(producer sarama.SyncProducer, topic string, opt EventDispatcherOptions) *EventDispatcher {
	d := &EventDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan FileEvent, opt.QueueSize),
		limiter:     newSendLimiter(opt.MaxConcurrentSends),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

// Enqueue：把事件放入本地队列，队列满时等到 ctx 超时为止。
// 事件流不要求强一致，丢一条审计事件不影响文件本身的版本语义
func (d *EventDispatcher) Enqueue(ctx context.Context, evt FileEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭队列，worker 把余量发完后自行退出。
// 关闭后再 Enqueue 会 panic，调用方保证先停上游
func (d *EventDispatcher) Close() {
	close(d.queue)
}

func (d *EventDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *EventDispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *EventDispatcher) sendWithRetry(workerID int, evt FileEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		// worker 允许一直等（不在主链路上）
		_ = d.limiter.Acquire(context.Background())

		err := d.sendOnce(evt)

		_ = d.limiter.Release()

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event room=%s file=%s ver=%d worker=%d err=%v",
				evt.RoomID, evt.FileID, evt.Version, workerID, err)
			return
		}

		// 退避，每次 X2，封顶 maxBackoff
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *EventDispatcher) sendOnce(evt FileEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// 以 roomID 做 key，同一房间的事件落同一分区保序
		Key:   sarama.StringEncoder(evt.RoomID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
