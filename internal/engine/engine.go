package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mm-quoter/gateway"
	"mm-quoter/infrastructure/logger"
	"mm-quoter/order"
	"mm-quoter/risk"
	"mm-quoter/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	StateIdle EngineState = iota
	StateRunning
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// InstrumentSpec 单个标的的报价参数。
type InstrumentSpec struct {
	Instrument gateway.Instrument
	Tick       float64
	BaseVolume int64
	Limit      int64 // 生效的单标的上限（已与内部硬上限取小）
}

// Config 引擎配置
type Config struct {
	Instruments      []InstrumentSpec
	TotalExposure    int64
	TickInterval     time.Duration // 循环节拍
	PositionInterval time.Duration // 仓位同步间隔
	QuoteInterval    time.Duration // 单标的重新报价间隔
	StatusInterval   time.Duration // 状态上报间隔
	FlushTimeout     time.Duration // 退出时撤单的最长等待
	SkipStartupSweep bool          // 启动时不清理遗留挂单
}

// Metrics 引擎用到的指标。
type Metrics interface {
	RecordQuote(instrument, outcome string)
	UpdateQuote(instrument string, fair, halfSpread float64)
	RecordRiskReject(reason string)
	UpdatePosition(instrument string, pos int64)
	UpdateTotalExposure(v int64)
}

// Alerter 运维告警；同一个键在恢复前只告警一次。
type Alerter interface {
	Warn(key, message string, fields map[string]interface{}) error
	Error(key, message string, fields map[string]interface{}) error
	Resolve(key string)
}

const alertPositionSync = "position_sync"

// Components 引擎依赖组件
type Components struct {
	Venue    gateway.Exchange
	Ledger   *risk.Ledger
	Quoter   *strategy.Quoter
	Orders   *order.Manager
	Widening *strategy.Widening
	Throttle *gateway.Throttle
	Clock    risk.Clock
	Logger   *logger.Logger
	Metrics  Metrics
	Alerts   Alerter

	// Sleep 节拍间的等待；为空时使用真实定时器。测试中可推进假时钟。
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine 单协程报价循环：按节拍同步仓位、逐个标的重新报价、定期上报状态。
type Engine struct {
	config Config
	specs  map[gateway.Instrument]InstrumentSpec

	venue    gateway.Exchange
	ledger   *risk.Ledger
	quoter   *strategy.Quoter
	orders   *order.Manager
	widening *strategy.Widening
	throttle *gateway.Throttle
	clock    risk.Clock
	logger   *logger.Logger
	metrics  Metrics
	alerts   Alerter
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	state  EngineState
	status Status
}

// New 创建报价引擎
func New(cfg Config, components Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = 5 * time.Second
	}
	if cfg.QuoteInterval <= 0 {
		cfg.QuoteInterval = 1500 * time.Millisecond
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}

	e := &Engine{
		config:   cfg,
		specs:    make(map[gateway.Instrument]InstrumentSpec, len(cfg.Instruments)),
		venue:    components.Venue,
		ledger:   components.Ledger,
		quoter:   components.Quoter,
		orders:   components.Orders,
		widening: components.Widening,
		throttle: components.Throttle,
		clock:    components.Clock,
		logger:   components.Logger,
		metrics:  components.Metrics,
		alerts:   components.Alerts,
		sleep:    components.Sleep,
		state:    StateIdle,
	}
	if e.clock == nil {
		e.clock = risk.System
	}
	if e.logger == nil {
		e.logger = logger.NewNop()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.alerts == nil {
		e.alerts = nopAlerter{}
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	for _, spec := range cfg.Instruments {
		e.specs[spec.Instrument] = spec
	}
	e.status = Status{State: StateIdle.String(), Instruments: make(map[string]InstrumentStatus)}
	return e, nil
}

// Instruments 按配置顺序返回标的。
func (e *Engine) Instruments() []gateway.Instrument {
	out := make([]gateway.Instrument, 0, len(e.config.Instruments))
	for _, spec := range e.config.Instruments {
		out = append(out, spec.Instrument)
	}
	return out
}

// State 当前引擎状态
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Run 运行报价循环，直到 duration 用尽（<=0 表示不限）或 ctx 结束。
// 退出时总会撤掉所有已跟踪挂单。仅在 ctx 结束时返回其错误。
func (e *Engine) Run(ctx context.Context, duration time.Duration) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.state = StateRunning
	e.mu.Unlock()

	start := e.clock.Now()
	e.logger.Info("Quoting engine starting",
		zap.Int("instruments", len(e.config.Instruments)),
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Duration("duration", duration))

	defer e.shutdown()

	// 单轮报价不被中途打断，否则撤单失败会丢掉已跟踪的 id；退出只发生在节拍边界。
	passCtx := context.WithoutCancel(ctx)
	e.startup(passCtx)

	lastPositions := e.clock.Now()
	lastStatus := lastPositions
	lastQuote := make(map[gateway.Instrument]time.Time, len(e.config.Instruments))

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("Context done, stopping engine", zap.Error(err))
			return err
		}
		now := e.clock.Now()
		if duration > 0 && now.Sub(start) >= duration {
			e.logger.Info("Run duration reached", zap.Duration("duration", duration))
			return nil
		}

		if now.Sub(lastPositions) >= e.config.PositionInterval {
			e.RefreshPositions(passCtx)
			lastPositions = now
		}

		// 各标的独立计时，按配置顺序依次处理
		for _, spec := range e.config.Instruments {
			if last, ok := lastQuote[spec.Instrument]; ok && now.Sub(last) < e.config.QuoteInterval {
				continue
			}
			e.QuoteInstrument(passCtx, spec.Instrument)
			lastQuote[spec.Instrument] = now
		}

		if now.Sub(lastStatus) >= e.config.StatusInterval {
			e.reportStatus()
			lastStatus = now
		}

		if err := e.sleep(ctx, e.config.TickInterval); err != nil {
			e.logger.Info("Context done, stopping engine", zap.Error(err))
			return err
		}
	}
}

// startup 清理遗留挂单并做首次仓位同步。
func (e *Engine) startup(ctx context.Context) {
	if !e.config.SkipStartupSweep {
		n := e.orders.CancelAllExisting(ctx, e.Instruments())
		e.logger.Info("Startup sweep done", zap.Int("cancelled", n))
	}
	e.RefreshPositions(ctx)
	e.reportStatus()
}

// shutdown 用独立 context 撤单，保证外部中断后仍能清理挂单。
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.FlushTimeout)
	defer cancel()
	e.orders.FlushAll(ctx)

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.reportStatus()
	e.logger.Info("Quoting engine stopped")
}

// RefreshPositions 同步交易所仓位；失败时沿用缓存。
func (e *Engine) RefreshPositions(ctx context.Context) {
	if err := e.ledger.Refresh(ctx); err != nil {
		e.logVenueError("position refresh failed", "", err)
		_ = e.alerts.Error(alertPositionSync, "position sync failed, using cached positions", map[string]interface{}{
			"kind":  gateway.KindOf(err).String(),
			"error": err.Error(),
		})
		return
	}
	e.alerts.Resolve(alertPositionSync)
	for instrument, pos := range e.ledger.Positions() {
		e.metrics.UpdatePosition(string(instrument), pos)
	}
	e.metrics.UpdateTotalExposure(e.ledger.TotalAbsExposure())
}

// PassResult 一轮报价的结果。
type PassResult struct {
	PassID   string
	Decision strategy.Decision
	Outcome  string
	Resting  order.Slots
	State    order.QuoteState
}

// QuoteInstrument 对单个标的执行一轮报价：
// 先撤掉上一轮挂单，再读取一次盘口计算报价，逐侧风控校验后下单。
func (e *Engine) QuoteInstrument(ctx context.Context, instrument gateway.Instrument) PassResult {
	res := PassResult{PassID: uuid.NewString()}
	spec, ok := e.specs[instrument]
	if !ok {
		res.Outcome = "unknown_instrument"
		return res
	}

	e.orders.Clear(ctx, instrument)

	book, err := e.venue.GetLastPriceBook(ctx, instrument)
	if err != nil {
		e.logVenueError("book read failed", instrument, err)
		res.Outcome = "book_error"
		return e.finishPass(instrument, res)
	}

	d := e.quoter.Compute(strategy.Input{
		Instrument: instrument,
		Book:       book,
		Position:   e.ledger.Position(instrument),
		Tick:       spec.Tick,
		BaseVolume: spec.BaseVolume,
		Limit:      spec.Limit,
	})
	res.Decision = d
	stopKey := "stop_out:" + string(instrument)
	if d.Clear {
		res.Outcome = string(d.Reason)
		if d.Reason == strategy.ReasonStopOut {
			_ = e.alerts.Warn(stopKey, "position at hard limit, quotes pulled", map[string]interface{}{
				"instrument": string(instrument),
				"position":   e.ledger.Position(instrument),
				"limit":      spec.Limit,
			})
		}
		e.logger.Event(zapcore.DebugLevel, "quote_pass", map[string]interface{}{
			"instrument":  string(instrument),
			"pass_id":     res.PassID,
			"mid":         d.Mid,
			"fair":        d.Fair,
			"half_spread": d.HalfSpread,
			"cleared":     string(d.Reason),
		})
		return e.finishPass(instrument, res)
	}

	e.alerts.Resolve(stopKey)

	limits := risk.Limits{PerInstrument: spec.Limit, TotalExposure: e.config.TotalExposure}
	e.placeSide(ctx, instrument, gateway.SideBid, d.Bid, limits, res.PassID)
	e.placeSide(ctx, instrument, gateway.SideAsk, d.Ask, limits, res.PassID)

	e.metrics.UpdateQuote(string(instrument), d.Fair, d.HalfSpread)
	e.logger.LogQuote(map[string]interface{}{
		"instrument":  string(instrument),
		"pass_id":     res.PassID,
		"mid":         d.Mid,
		"fair":        d.Fair,
		"half_spread": d.HalfSpread,
		"bid":         d.Bid.Price,
		"bid_volume":  d.Bid.Volume,
		"ask":         d.Ask.Price,
		"ask_volume":  d.Ask.Volume,
	})
	res.Outcome = "quoted"
	return e.finishPass(instrument, res)
}

// placeSide 每侧校验前重新读取仓位与在途挂单，因此卖侧校验会计入本轮刚挂出的买单。
func (e *Engine) placeSide(ctx context.Context, instrument gateway.Instrument, side gateway.Side, leg strategy.Leg, limits risk.Limits, passID string) {
	if leg.Volume <= 0 {
		return
	}
	exp, err := e.ledger.Exposure(ctx, instrument)
	if err != nil {
		e.logVenueError("exposure refresh degraded", instrument, err)
	}
	if err := risk.Check(exp, side, leg.Volume, limits); err != nil {
		reason := risk.Reason(err)
		e.metrics.RecordRiskReject(reason)
		e.logger.LogRisk(reason, map[string]interface{}{
			"instrument": string(instrument),
			"side":       string(side),
			"volume":     leg.Volume,
			"pass_id":    passID,
			"detail":     err.Error(),
		})
		return
	}
	// 失败与限流已在订单管理器中记录，本轮不重试
	_, _ = e.orders.Replace(ctx, instrument, side, leg.Price, leg.Volume)
}

func (e *Engine) finishPass(instrument gateway.Instrument, res PassResult) PassResult {
	res.Resting = e.orders.Resting(instrument)
	res.State = e.orders.Settle(instrument)
	e.metrics.RecordQuote(string(instrument), res.Outcome)

	e.mu.Lock()
	e.status.Instruments[string(instrument)] = InstrumentStatus{
		State:      string(res.State),
		Outcome:    res.Outcome,
		BidID:      res.Resting.Bid,
		AskID:      res.Resting.Ask,
		Mid:        res.Decision.Mid,
		Fair:       res.Decision.Fair,
		HalfSpread: res.Decision.HalfSpread,
		LastQuote:  e.clock.Now(),
	}
	e.mu.Unlock()
	return res
}

func (e *Engine) logVenueError(msg string, instrument gateway.Instrument, err error) {
	kind := gateway.KindOf(err)
	fields := []zap.Field{zap.String("kind", kind.String()), zap.Error(err)}
	if instrument != "" {
		fields = append(fields, zap.String("instrument", string(instrument)))
	}
	if kind == gateway.KindTransport {
		e.logger.Warn(msg, fields...)
		return
	}
	e.logger.Info(msg, fields...)
}

func validateConfig(cfg Config) error {
	if len(cfg.Instruments) == 0 {
		return errors.New("no instruments configured")
	}
	seen := make(map[gateway.Instrument]bool, len(cfg.Instruments))
	for _, spec := range cfg.Instruments {
		if spec.Instrument == "" {
			return errors.New("empty instrument")
		}
		if seen[spec.Instrument] {
			return fmt.Errorf("duplicate instrument %s", spec.Instrument)
		}
		seen[spec.Instrument] = true
		if spec.Tick <= 0 {
			return fmt.Errorf("%s: tick must be > 0", spec.Instrument)
		}
		if spec.BaseVolume <= 0 {
			return fmt.Errorf("%s: base volume must be > 0", spec.Instrument)
		}
		if spec.Limit <= 0 {
			return fmt.Errorf("%s: limit must be > 0", spec.Instrument)
		}
	}
	if cfg.TotalExposure <= 0 {
		return errors.New("total exposure must be > 0")
	}
	return nil
}

func validateComponents(c Components) error {
	if c.Venue == nil {
		return errors.New("venue is required")
	}
	if c.Ledger == nil {
		return errors.New("ledger is required")
	}
	if c.Quoter == nil {
		return errors.New("quoter is required")
	}
	if c.Orders == nil {
		return errors.New("order manager is required")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordQuote(string, string)           {}
func (nopMetrics) UpdateQuote(string, float64, float64) {}
func (nopMetrics) RecordRiskReject(string)              {}
func (nopMetrics) UpdatePosition(string, int64)         {}
func (nopMetrics) UpdateTotalExposure(int64)            {}

type nopAlerter struct{}

func (nopAlerter) Warn(string, string, map[string]interface{}) error  { return nil }
func (nopAlerter) Error(string, string, map[string]interface{}) error { return nil }
func (nopAlerter) Resolve(string)                                     {}

func sortedInstruments(in []gateway.Instrument) []string {
	out := make([]string, 0, len(in))
	for _, i := range in {
		out = append(out, string(i))
	}
	sort.Strings(out)
	return out
}
