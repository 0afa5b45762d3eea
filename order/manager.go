package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"mm-quoter/gateway"
	"mm-quoter/infrastructure/logger"
)

const budgetPoll = 20 * time.Millisecond

// Venue 订单管理所需的交易所子集。
type Venue interface {
	GetOutstandingOrders(ctx context.Context, instrument gateway.Instrument) (map[string]gateway.OutstandingOrder, error)
	InsertOrder(ctx context.Context, req gateway.InsertRequest) (string, error)
	DeleteOrder(ctx context.Context, instrument gateway.Instrument, orderID string) error
}

// Recorder 订单相关指标。
type Recorder interface {
	RecordOrderInserted(side string)
	RecordOrderDeleted()
	RecordThrottleDenied(op string)
}

// Manager 维护每个标的两侧的挂单 id，所有下单/撤单先经过 Throttle。
// 交易所失败在这里被分类并吞掉，调用方只需在下一轮重试。
type Manager struct {
	venue    Venue
	throttle *gateway.Throttle
	log      *logger.Logger
	metrics  Recorder

	mu     sync.Mutex
	slots  map[gateway.Instrument]Slots
	states map[gateway.Instrument]QuoteState
}

func NewManager(venue Venue, throttle *gateway.Throttle, log *logger.Logger, metrics Recorder) *Manager {
	if throttle == nil {
		throttle = gateway.NewThrottle(1, nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		venue:    venue,
		throttle: throttle,
		log:      log,
		metrics:  metrics,
		slots:    make(map[gateway.Instrument]Slots),
		states:   make(map[gateway.Instrument]QuoteState),
	}
}

// Replace 先撤掉该侧已跟踪的挂单（失败或被限流都清空 id），
// 再在 volume > 0 且预算允许时挂新单。返回新 id；插单未成功时 id 为空，
// error 仅描述插单结果，已记录日志，调用方不应立即重试。
func (m *Manager) Replace(ctx context.Context, instrument gateway.Instrument, side gateway.Side, price float64, volume int64) (string, error) {
	m.cancelSide(ctx, instrument, side, false)
	if volume <= 0 {
		return "", nil
	}
	id, err := m.insert(ctx, gateway.InsertRequest{
		Instrument: instrument,
		Side:       side,
		Price:      price,
		Volume:     volume,
	})
	m.mu.Lock()
	s := m.slots[instrument]
	s.set(side, id)
	m.slots[instrument] = s
	m.mu.Unlock()
	return id, err
}

// Clear 撤掉某标的两侧挂单。
func (m *Manager) Clear(ctx context.Context, instrument gateway.Instrument) {
	m.cancelSide(ctx, instrument, gateway.SideBid, false)
	m.cancelSide(ctx, instrument, gateway.SideAsk, false)
}

// FlushAll 撤掉所有已跟踪的挂单，用于退出。
// 与报价循环不同，这里会等待请求预算恢复，直到 ctx 结束。
func (m *Manager) FlushAll(ctx context.Context) {
	for _, instrument := range m.tracked() {
		m.cancelSide(ctx, instrument, gateway.SideBid, true)
		m.cancelSide(ctx, instrument, gateway.SideAsk, true)
		m.Settle(instrument)
	}
}

// Resting 返回某标的当前跟踪的挂单。
func (m *Manager) Resting(instrument gateway.Instrument) Slots {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[instrument]
}

// State 返回某标的报价状态。
func (m *Manager) State(instrument gateway.Instrument) QuoteState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[instrument]; ok {
		return st
	}
	return StateNoQuote
}

// CancelAllExisting 启动时清理交易所上遗留的挂单（包括非本进程下的）。
// 返回成功撤掉的数量。
func (m *Manager) CancelAllExisting(ctx context.Context, instruments []gateway.Instrument) int {
	cancelled := 0
	for _, instrument := range instruments {
		orders, err := m.venue.GetOutstandingOrders(ctx, instrument)
		if err != nil {
			m.logOutcome(gateway.OpOutstanding, instrument, "", err)
			continue
		}
		ids := make([]string, 0, len(orders))
		for id := range orders {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if m.cancel(ctx, instrument, id) {
				cancelled++
			}
		}
	}
	return cancelled
}

func (m *Manager) cancelSide(ctx context.Context, instrument gateway.Instrument, side gateway.Side, wait bool) {
	m.mu.Lock()
	s := m.slots[instrument]
	id := s.Get(side)
	s.set(side, "")
	m.slots[instrument] = s
	m.mu.Unlock()
	if id == "" {
		return
	}
	if wait {
		m.waitBudget(ctx)
	}
	m.cancel(ctx, instrument, id)
}

// waitBudget 轮询直到预算可用或 ctx 结束。
func (m *Manager) waitBudget(ctx context.Context) {
	for !m.throttle.CanSend() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(budgetPoll):
		}
	}
}

func (m *Manager) cancel(ctx context.Context, instrument gateway.Instrument, id string) bool {
	if !m.throttle.CanSend() {
		m.denied(gateway.OpDelete, instrument, id)
		return false
	}
	if err := m.venue.DeleteOrder(ctx, instrument, id); err != nil {
		m.logOutcome(gateway.OpDelete, instrument, id, err)
		return false
	}
	m.throttle.Record()
	if m.metrics != nil {
		m.metrics.RecordOrderDeleted()
	}
	m.log.LogOrder("deleted", id, map[string]interface{}{"instrument": string(instrument)})
	return true
}

func (m *Manager) insert(ctx context.Context, req gateway.InsertRequest) (string, error) {
	if !m.throttle.CanSend() {
		m.denied(gateway.OpInsert, req.Instrument, "")
		return "", gateway.NewCallError(gateway.OpInsert, req.Instrument, gateway.KindThrottled, gateway.ErrThrottled)
	}
	id, err := m.venue.InsertOrder(ctx, req)
	if err != nil {
		m.logOutcome(gateway.OpInsert, req.Instrument, "", err)
		return "", gateway.NewCallError(gateway.OpInsert, req.Instrument, gateway.KindOf(err), err)
	}
	if id == "" {
		err := gateway.NewCallError(gateway.OpInsert, req.Instrument, gateway.KindRejected, errors.New("empty order id"))
		m.logOutcome(gateway.OpInsert, req.Instrument, "", err)
		return "", err
	}
	m.throttle.Record()
	if m.metrics != nil {
		m.metrics.RecordOrderInserted(string(req.Side))
	}
	m.log.LogOrder("inserted", id, map[string]interface{}{
		"instrument": string(req.Instrument),
		"side":       string(req.Side),
		"price":      req.Price,
		"volume":     req.Volume,
	})
	return id, nil
}

func (m *Manager) denied(op gateway.Op, instrument gateway.Instrument, id string) {
	if m.metrics != nil {
		m.metrics.RecordThrottleDenied(string(op))
	}
	m.log.Event(zapcore.DebugLevel, "order_event", map[string]interface{}{
		"instrument": string(instrument),
		"action":     fmt.Sprintf("%s_throttled", op),
		"order_id":   id,
	})
}

// logOutcome 按失败类型选择日志级别；网络类失败用 Warn，其余 Info。
func (m *Manager) logOutcome(op gateway.Op, instrument gateway.Instrument, id string, err error) {
	kind := gateway.KindOf(err)
	level := zapcore.InfoLevel
	if kind == gateway.KindTransport {
		level = zapcore.WarnLevel
	}
	m.log.Event(level, "order_event", map[string]interface{}{
		"instrument": string(instrument),
		"action":     fmt.Sprintf("%s_failed", op),
		"order_id":   id,
		"kind":       kind.String(),
		"error":      err.Error(),
	})
}

// Settle 在一轮报价结束后推进状态机并返回新状态。
func (m *Manager) Settle(instrument gateway.Instrument) QuoteState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := next(m.states[instrument], m.slots[instrument])
	m.states[instrument] = st
	return st
}

func (m *Manager) tracked() []gateway.Instrument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gateway.Instrument, 0, len(m.slots))
	for instrument, s := range m.slots {
		if !s.Empty() {
			out = append(out, instrument)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
