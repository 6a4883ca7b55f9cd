package mirror

import (
	"sync"
	"time"

	"mirror_worker/internal/backend"
)

// Stats 统计窗口，定期上报到 worker-metrics 后清零
type Stats struct {
	mu           sync.Mutex
	total        int
	success      int
	failed       int
	latencyTotal time.Duration
}

// NewStats 创建空统计窗口
func NewStats() *Stats { return &Stats{} }

// ObserveMessage 实现 Observer（窗口只统计投递）
func (s *Stats) ObserveMessage(Kind) {}

// ObserveDelivery 记录一次投递
func (s *Stats) ObserveDelivery(_ Kind, status string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if status == backend.StatusSuccess {
		s.success++
	} else {
		s.failed++
	}
	s.latencyTotal += latency
}

// Snapshot 返回当前窗口，reset 为 true 时清零
func (s *Stats) Snapshot(reset bool) backend.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := backend.Metrics{
		TotalMessages:      s.total,
		SuccessfulMessages: s.success,
		FailedMessages:     s.failed,
	}
	if s.total > 0 {
		m.AvgLatencySeconds = s.latencyTotal.Seconds() / float64(s.total)
	}

	if reset {
		s.total, s.success, s.failed = 0, 0, 0
		s.latencyTotal = 0
	}
	return m
}
