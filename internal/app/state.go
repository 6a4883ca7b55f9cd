package app

import (
	"errors"
	"fmt"
	"sync"
)

// State 工作进程生命周期状态
type State int

const (
	StateUnconfigured State = iota // 尚未拉取配置
	StateConnecting                // 已拉取配置，正在建立会话
	StateListening                 // 已订阅源频道
	StateStopped                   // 正常停止（含中断、重启请求）
	StateAborted                   // 启动失败
)

// ErrInvalidTransition 非法的状态转换
var ErrInvalidTransition = errors.New("invalid state transition")

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateStopped || s == StateAborted
}

var transitions = map[State][]State{
	StateUnconfigured: {StateConnecting, StateAborted, StateStopped},
	StateConnecting:   {StateListening, StateAborted, StateStopped},
	StateListening:    {StateStopped},
}

type stateMachine struct {
	mu    sync.RWMutex
	state State
}

func (m *stateMachine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition 仅允许 transitions 中列出的转换
func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}
