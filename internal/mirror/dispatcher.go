package mirror

import (
	"context"
	"errors"
	"sync"

	"mirror_worker/internal/logger"
)

// ErrDispatcherClosed 调度器已关闭
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// HandlerFunc 事件处理函数
type HandlerFunc func(ctx context.Context, msg *Message)

type task struct {
	ctx context.Context
	msg *Message
}

// Dispatcher 串行事件调度器
// 单个 worker 协程按到达顺序逐条处理，处理期间的新事件在队列中等待
type Dispatcher struct {
	queue   chan task
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	handler HandlerFunc
}

// NewDispatcher 创建调度器并启动 worker
// queueSize: 等待处理的事件上限，满时 Submit 阻塞
func NewDispatcher(queueSize int, handler HandlerFunc) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		queue:   make(chan task, queueSize),
		done:    make(chan struct{}),
		handler: handler,
	}

	d.wg.Add(1)
	go d.worker()

	logger.L().Debugf("Dispatcher started, queue size %d", queueSize)
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case t := <-d.queue:
			d.run(t)
		}
	}
}

// run 执行 handler，带 panic recovery
func (d *Dispatcher) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Errorf("Dispatcher: handler panic recovered: message_id=%d, panic=%v", t.msg.ID, r)
		}
	}()
	d.handler(t.ctx, t.msg)
}

// Submit 提交事件，队列满时阻塞直到有空位、ctx 取消或调度器关闭
func (d *Dispatcher) Submit(ctx context.Context, msg *Message) error {
	select {
	case <-d.done:
		return ErrDispatcherClosed
	default:
	}

	select {
	case d.queue <- task{ctx: ctx, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDispatcherClosed
	}
}

// Pending 队列中尚未处理的事件数
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Shutdown 停止接收事件并等待正在执行的 handler 结束
// 队列中未处理的事件被丢弃
func (d *Dispatcher) Shutdown() {
	d.once.Do(func() {
		close(d.done)
	})
	d.wg.Wait()

	if n := len(d.queue); n > 0 {
		logger.L().Warnf("Dispatcher shut down with %d pending events dropped", n)
	} else {
		logger.L().Debug("Dispatcher shut down")
	}
}
