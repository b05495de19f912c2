// Package circuit 为外部数据源提供熔断：连续失败达到阈值后在冷却期内直接拒绝请求。
package circuit

import (
	"errors"
	"sync"
	"time"

	"agentaudit/internal/logger"
)

// ErrOpen 表示熔断器处于打开状态，本次调用未被执行。
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	lastFailure   time.Time
	name          string
	now           func() time.Time
	onStateChange func(name string, from, to State)
}

// NewCircuitBreaker threshold<=0 时退化为 1，即一次失败就打开。
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// SetStateChangeHandler 注册状态变化回调。回调在持锁状态下同步执行，不能再调用本熔断器的方法。
func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow 报告当前是否允许发起调用；冷却期结束后进入半开状态放行一次探测。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.cooldown {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.failures = 0
		cb.transition(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Execute 在熔断器允许时执行 fn 并记录结果；打开时返回 ErrOpen。
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, cooldown=%s)",
		cb.name, from, to, cb.failures, cb.threshold, cb.cooldown)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
