package filesync

import (
	"context"
	"errors"
)

var (
	ErrSendLimitTimeout = errors.New("SEND_LIMIT_TIMEOUT")
	ErrSendLimitNotHeld = errors.New("SEND_LIMIT_NOT_HELD")
)

const defaultMaxConcurrentSends = 100

// sendLimiter 限制同时在途的 Kafka 发送数，容量满了就等，ctx 到期放弃。
// worker 数通常远小于容量，这层是给异常放大（重试风暴）兜底的
type sendLimiter struct {
	slots chan struct{}
}

func newSendLimiter(capacity int) *sendLimiter {
	if capacity <= 0 {
		capacity = defaultMaxConcurrentSends
	}
	return &sendLimiter{slots: make(chan struct{}, capacity)}
}

func (l *sendLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrSendLimitTimeout
	}
}

func (l *sendLimiter) Release() error {
	select {
	case <-l.slots:
		return nil
	default:
		return ErrSendLimitNotHeld
	}
}
