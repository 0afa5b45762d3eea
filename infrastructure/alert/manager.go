package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mm-quoter/infrastructure/logger"
)

// ErrQueueFull 发送队列已满，告警被丢弃。
var ErrQueueFull = errors.New("alert queue full")

const (
	DefaultQueueSize = 64
	stopTimeout      = 5 * time.Second
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Key       string // 去重键，为空时使用 Level:Message
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

func (a Alert) dedupKey() string {
	if a.Key != "" {
		return a.Key
	}
	return fmt.Sprintf("%s:%s", a.Level, a.Message)
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 同一个键在 interval 内只放行一次。
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器；now 为空时使用系统时间。
func NewThrottler(interval time.Duration, now func() time.Time) *Throttler {
	if now == nil {
		now = time.Now
	}
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSent[key] = now
	return true
}

// Reset 清除某个键，下一次同键告警立即放行。
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Config 告警管理器配置
type Config struct {
	Dedup     time.Duration    // 同一键的最小间隔
	QueueSize int              // 待发送队列长度
	Now       func() time.Time // 为空时使用系统时间
	Logger    *logger.Logger
}

// Manager 告警管理器：去重后放入有界队列，由后台协程广播到所有通道。
// Send 从不等待通道，慢通道只会让队列积压。
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
	now      func() time.Time
	log      *logger.Logger
	queue    chan Alert
	dropped  atomic.Int64

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewManager 创建告警管理器；需调用 Start 后才会真正投递。
func NewManager(channels []Channel, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Manager{
		channels: channels,
		throttle: NewThrottler(cfg.Dedup, cfg.Now),
		now:      cfg.Now,
		log:      cfg.Logger,
		queue:    make(chan Alert, cfg.QueueSize),
	}
}

// Send 去重后入队。被去重时返回 nil；队列满时丢弃、记 Warn 并返回 ErrQueueFull，
// 同时清除去重状态，下一次同键告警可以再次尝试。
func (m *Manager) Send(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now()
	}
	key := alert.dedupKey()
	if !m.throttle.Allow(key) {
		return nil
	}
	select {
	case m.queue <- alert:
		return nil
	default:
		m.throttle.Reset(key)
		m.dropped.Add(1)
		m.log.Warn("alert queue full, dropping alert",
			zap.String("alert_key", key),
			zap.String("alert_level", string(alert.Level)),
			zap.String("message", alert.Message))
		return ErrQueueFull
	}
}

// Warn 发送 WARNING 告警
func (m *Manager) Warn(key, message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelWarning, Key: key, Message: message, Fields: fields})
}

// Error 发送 ERROR 告警
func (m *Manager) Error(key, message string, fields map[string]interface{}) error {
	return m.Send(Alert{Level: LevelError, Key: key, Message: message, Fields: fields})
}

// Resolve 问题恢复后清除去重状态，再次发生时立即告警。
func (m *Manager) Resolve(key string) {
	m.throttle.Reset(key)
}

// Start 启动投递协程。投递协程只由 Stop 结束，退出阶段产生的告警仍会发出。
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
	return nil
}

// Stop 发完队列中剩余的告警后退出，最多等待 stopTimeout。
func (m *Manager) Stop() error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.runMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		return errors.New("alert worker did not stop in time")
	}
}

// Running 投递协程是否在运行
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// Dropped 因队列满被丢弃的告警数
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *Manager) run(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case a := <-m.queue:
			m.deliver(a)
		case <-stop:
			for {
				select {
				case a := <-m.queue:
					m.deliver(a)
				default:
					return
				}
			}
		}
	}
}

// deliver 广播到所有通道；所有通道都失败才返回错误。
func (m *Manager) deliver(alert Alert) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	sent := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			m.log.Warn("alert delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("alert_key", alert.dedupKey()),
				zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels 返回通道名称
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}
