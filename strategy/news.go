package strategy

import (
	"sync"
	"time"

	"mm-quoter/gateway"
	"mm-quoter/risk"
)

// WideningConfig 新闻加宽参数。
type WideningConfig struct {
	InstrumentTicks  int           // 单标的新闻期间的最小半价差（tick）
	InstrumentWindow time.Duration // 单标的加宽持续时间
	GlobalTicks      int           // 全局新闻期间的最小半价差（tick）
	GlobalWindow     time.Duration // 全局加宽持续时间
}

// DefaultWideningConfig 3 tick / 10s，全局 2 tick / 5s。
func DefaultWideningConfig() WideningConfig {
	return WideningConfig{
		InstrumentTicks:  3,
		InstrumentWindow: 10 * time.Second,
		GlobalTicks:      2,
		GlobalWindow:     5 * time.Second,
	}
}

// Widening 持有单标的与全局的 "加宽截止时间"，到期自然失效，从不显式清除。
// 标记来自控制接口或新闻源的 goroutine，因此需要加锁。
type Widening struct {
	cfg   WideningConfig
	clock risk.Clock

	mu     sync.RWMutex
	until  map[gateway.Instrument]time.Time
	global time.Time
}

func NewWidening(cfg WideningConfig, clock risk.Clock) *Widening {
	if clock == nil {
		clock = risk.System
	}
	return &Widening{
		cfg:   cfg,
		clock: clock,
		until: make(map[gateway.Instrument]time.Time),
	}
}

// FlagInstrument 单标的新闻：加宽到 now + InstrumentWindow。
func (w *Widening) FlagInstrument(instrument gateway.Instrument) time.Time {
	until := w.clock.Now().Add(w.cfg.InstrumentWindow)
	w.mu.Lock()
	w.until[instrument] = until
	w.mu.Unlock()
	return until
}

// FlagGlobal 全局新闻：加宽到 now + GlobalWindow。
func (w *Widening) FlagGlobal() time.Time {
	until := w.clock.Now().Add(w.cfg.GlobalWindow)
	w.mu.Lock()
	w.global = until
	w.mu.Unlock()
	return until
}

// EffectiveHalfSpreadTicks 两类加宽独立生效并取最大值，不叠加。
func (w *Widening) EffectiveHalfSpreadTicks(instrument gateway.Instrument, baseTicks int) int {
	now := w.clock.Now()
	w.mu.RLock()
	until, global := w.until[instrument], w.global
	w.mu.RUnlock()

	ticks := baseTicks
	if now.Before(until) && w.cfg.InstrumentTicks > ticks {
		ticks = w.cfg.InstrumentTicks
	}
	if now.Before(global) && w.cfg.GlobalTicks > ticks {
		ticks = w.cfg.GlobalTicks
	}
	return ticks
}

// Active 返回当前仍在加宽中的标的及全局状态，供状态上报。
func (w *Widening) Active() (instruments []gateway.Instrument, global bool) {
	now := w.clock.Now()
	w.mu.RLock()
	defer w.mu.RUnlock()
	for inst, until := range w.until {
		if now.Before(until) {
			instruments = append(instruments, inst)
		}
	}
	return instruments, now.Before(w.global)
}
