package gateway

import (
	"sync"
	"time"
)

// Throttle 滑动一秒窗口的请求准入控制。
// 与令牌桶不同，被拒绝的请求不会等待，调用方应直接跳过本轮动作。
type Throttle struct {
	mu     sync.Mutex
	max    int
	window []time.Time
	now    func() time.Time
}

// NewThrottle 创建准入器；now 为 nil 时使用 time.Now。
func NewThrottle(maxPerSecond int, now func() time.Time) *Throttle {
	if maxPerSecond <= 0 {
		maxPerSecond = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		max:    maxPerSecond,
		window: make([]time.Time, 0, maxPerSecond),
		now:    now,
	}
}

// CanSend 先淘汰窗口外（>=1s）的时间戳，再判断是否仍有余量。
func (t *Throttle) CanSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(t.now())
	return len(t.window) < t.max
}

// Record 登记一次已发出的请求，仅应在请求真正发出后调用。
func (t *Throttle) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = append(t.window, t.now())
	if len(t.window) > t.max {
		// 调用方未先 CanSend 时保持容量上限
		t.window = t.window[len(t.window)-t.max:]
	}
}

// InFlight 返回窗口内的请求数。
func (t *Throttle) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(t.now())
	return len(t.window)
}

// Max 返回每秒上限。
func (t *Throttle) Max() int { return t.max }

func (t *Throttle) evict(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(t.window) && !t.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.window = append(t.window[:0], t.window[i:]...)
	}
}
