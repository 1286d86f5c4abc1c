package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// 冲突不自动重试：同一个 baseVersion 再发一万次也不会成功，
	// 只能交给调用方换基线或放弃
	ErrConflict = errors.New("SYNC_CONFLICT")
	// 校验类失败，请求本身不合法，重试无意义
	ErrPermanent = errors.New("SYNC_PERMANENT")
	// 传输类失败重试次数用完
	ErrRetryExhausted = errors.New("SYNC_RETRY_EXHAUSTED")
)

// Change：还没落库的本地编辑。只活在队列里，提交成功或永久失败后消失
type Change struct {
	FileID      string    `json:"fileId"`
	Content     string    `json:"content"`
	BaseVersion uint64    `json:"baseVersion"`
	PeerID      string    `json:"peerId"`
	At          time.Time `json:"at"`
}

// Flusher 执行一次真正的同步。返回值约定：
// - nil：提交成功
// - 包含 ErrConflict / ErrPermanent：不重试，直接上报
// - 其他错误：按传输类失败退避重试
type Flusher interface {
	Flush(ctx context.Context, ch Change) error
}

type Options struct {
	MaxRetry     int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	FlushDelay   time.Duration // 合并连续击键的小窗口，0 表示立刻发
	FlushTimeout time.Duration
	// 永久失败（冲突 / 重试耗尽 / 校验失败）回调，带着原始变更交还调用方
	OnError func(Change, error)
}

type Status struct {
	PendingCount int   `json:"pendingCount"`
	InFlight     bool  `json:"inFlight"`
	LastErr      error `json:"-"`
}

// Queue：每个文件一个 Idle → Flushing 状态机。
// 不变式：任一时刻每个文件最多一个同步请求在途；
// flush 期间进来的变更合并成下一次 flush，绝不交错
type Queue struct {
	mu      sync.Mutex
	flusher Flusher
	opt     Options
	files   map[string]*fileQueue
}

type fileQueue struct {
	pending      *Change
	pendingCount int
	inFlight     bool
	lastErr      error
	force        chan struct{}
}

func NewQueue(flusher Flusher, opt Options) *Queue {
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 3
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 50 * time.Millisecond
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 1 * time.Second
	}
	if opt.FlushTimeout <= 0 {
		opt.FlushTimeout = 10 * time.Second
	}
	return &Queue{flusher: flusher, opt: opt, files: make(map[string]*fileQueue)}
}

func (q *Queue) fileLocked(fileID string) *fileQueue {
	fq := q.files[fileID]
	if fq == nil {
		fq = &fileQueue{force: make(chan struct{}, 1)}
		q.files[fileID] = fq
	}
	return fq
}

// Enqueue：非阻塞。文件空闲则启动 flush 循环；
// 在途则合并——内容取最新，baseVersion 保留最早那条未同步变更的
func (q *Queue) Enqueue(ch Change) {
	if ch.At.IsZero() {
		ch.At = time.Now()
	}
	q.mu.Lock()
	fq := q.fileLocked(ch.FileID)
	if fq.pending != nil {
		ch.BaseVersion = fq.pending.BaseVersion
		fq.pendingCount++
	} else {
		fq.pendingCount = 1
	}
	cp := ch
	fq.pending = &cp
	if !fq.inFlight {
		fq.inFlight = true
		// 空闲期间残留的 force 信号对应的是上一批变更，清掉，
		// 否则新一轮 flush 会无故跳过合并窗口
		select {
		case <-fq.force:
		default:
		}
		go q.flushLoop(ch.FileID)
	}
	q.mu.Unlock()
}

// ForceFlush：显式保存。跳过合并窗口，把所有待发文件立即推出去
func (q *Queue) ForceFlush(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, fq := range q.files {
		if fq.pending == nil {
			continue
		}
		select {
		case fq.force <- struct{}{}:
		default:
		}
	}
}

func (q *Queue) flushLoop(fileID string) {
	for {
		q.mu.Lock()
		fq := q.files[fileID]
		force := fq.force
		hasPending := fq.pending != nil
		q.mu.Unlock()
		if !hasPending {
			// 下面还会再查一次，这里只是避免空转时睡满整个窗口
		} else if q.opt.FlushDelay > 0 {
			select {
			case <-time.After(q.opt.FlushDelay):
			case <-force:
			}
		}

		q.mu.Lock()
		fq = q.files[fileID]
		ch := fq.pending
		if ch == nil {
			fq.inFlight = false
			q.mu.Unlock()
			return
		}
		fq.pending = nil
		fq.pendingCount = 0
		// 取走变更后 force 信号就算兑现了；select 已经醒来的情况下
		// 信号还留在缓冲里，不清会让下一轮的窗口被跳过
		select {
		case <-fq.force:
		default:
		}
		take := *ch
		q.mu.Unlock()

		err := q.attempt(take)

		q.mu.Lock()
		fq.lastErr = err
		q.mu.Unlock()

		if err != nil && q.opt.OnError != nil {
			q.opt.OnError(take, err)
		}
	}
}

// attempt：一次提交加有限重试。退避每次 X2，封顶 MaxBackoff
func (q *Queue) attempt(ch Change) error {
	var err error
	for i := 0; i <= q.opt.MaxRetry; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.opt.FlushTimeout)
		err = q.flusher.Flush(ctx, ch)
		cancel()
		if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrPermanent) {
			return err
		}
		if i == q.opt.MaxRetry {
			break
		}
		backoff := q.opt.BaseBackoff * time.Duration(1<<i)
		if backoff > q.opt.MaxBackoff {
			backoff = q.opt.MaxBackoff
		}
		time.Sleep(backoff)
	}
	return fmt.Errorf("%w: %v", ErrRetryExhausted, err)
}

// FileStatus：单个文件的队列状态
func (q *Queue) FileStatus(fileID string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	fq := q.files[fileID]
	if fq == nil {
		return Status{}
	}
	return Status{PendingCount: fq.pendingCount, InFlight: fq.inFlight, LastErr: fq.lastErr}
}

// Status：全队列聚合，给观测用
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out Status
	for _, fq := range q.files {
		out.PendingCount += fq.pendingCount
		if fq.inFlight {
			out.InFlight = true
		}
		if fq.lastErr != nil {
			out.LastErr = fq.lastErr
		}
	}
	return out
}
