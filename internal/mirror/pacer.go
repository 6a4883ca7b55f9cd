package mirror

import (
	"context"
	"time"
)

// Pacer 发送前的防刷屏等待
type Pacer interface {
	Pace(ctx context.Context, d time.Duration) error
}

// TimerPacer 基于 time.Timer 的实现，可被 ctx 取消
type TimerPacer struct{}

// Pace 等待 d（阻塞直到超时或上下文取消）
func (TimerPacer) Pace(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
