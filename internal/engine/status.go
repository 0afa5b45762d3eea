package engine

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// InstrumentStatus 单个标的最近一轮报价。
type InstrumentStatus struct {
	State      string    `json:"state"`
	Outcome    string    `json:"outcome"`
	BidID      string    `json:"bidId,omitempty"`
	AskID      string    `json:"askId,omitempty"`
	Mid        float64   `json:"mid"`
	Fair       float64   `json:"fair"`
	HalfSpread float64   `json:"halfSpread"`
	LastQuote  time.Time `json:"lastQuote"`
}

// NewsStatus 当前生效的新闻加宽。
type NewsStatus struct {
	Global      bool     `json:"global"`
	Instruments []string `json:"instruments"`
}

// Status 对外发布的状态快照，供控制接口读取。
type Status struct {
	State            string                      `json:"state"`
	Positions        map[string]int64            `json:"positions"`
	TotalExposure    int64                       `json:"totalExposure"`
	LastPositionSync time.Time                   `json:"lastPositionSync"`
	ThrottleInFlight int                         `json:"throttleInFlight"`
	ThrottleMax      int                         `json:"throttleMax"`
	News             NewsStatus                  `json:"news"`
	Instruments      map[string]InstrumentStatus `json:"instruments"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

// Status 返回最近一次发布的快照（深拷贝）。
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.status
	out.Positions = make(map[string]int64, len(e.status.Positions))
	for k, v := range e.status.Positions {
		out.Positions[k] = v
	}
	out.Instruments = make(map[string]InstrumentStatus, len(e.status.Instruments))
	for k, v := range e.status.Instruments {
		out.Instruments[k] = v
	}
	out.News.Instruments = append([]string(nil), e.status.News.Instruments...)
	return out
}

// reportStatus 状态钩子：刷新指标、输出一行状态日志并发布快照。
func (e *Engine) reportStatus() {
	positions := make(map[string]int64)
	for instrument, pos := range e.ledger.Positions() {
		positions[string(instrument)] = pos
		e.metrics.UpdatePosition(string(instrument), pos)
	}
	total := e.ledger.TotalAbsExposure()
	e.metrics.UpdateTotalExposure(total)

	var news NewsStatus
	if e.widening != nil {
		active, global := e.widening.Active()
		news = NewsStatus{Global: global, Instruments: sortedInstruments(active)}
	}
	inFlight, budget := 0, 0
	if e.throttle != nil {
		inFlight, budget = e.throttle.InFlight(), e.throttle.Max()
	}
	resting := make(map[string]InstrumentStatus, len(e.config.Instruments))
	for _, instrument := range e.Instruments() {
		slots := e.orders.Resting(instrument)
		resting[string(instrument)] = InstrumentStatus{
			State: string(e.orders.State(instrument)),
			BidID: slots.Bid,
			AskID: slots.Ask,
		}
	}

	e.mu.Lock()
	e.status.State = e.state.String()
	e.status.Positions = positions
	e.status.TotalExposure = total
	e.status.LastPositionSync = e.ledger.LastSync()
	e.status.ThrottleInFlight = inFlight
	e.status.ThrottleMax = budget
	for name, r := range resting {
		st := e.status.Instruments[name]
		st.State, st.BidID, st.AskID = r.State, r.BidID, r.AskID
		e.status.Instruments[name] = st
	}
	e.status.News = news
	e.status.UpdatedAt = e.clock.Now()
	state := e.status.State
	e.mu.Unlock()

	e.logger.Event(zapcore.InfoLevel, "status", map[string]interface{}{
		"state":              state,
		"positions":          positions,
		"total_exposure":     total,
		"throttle_in_flight": inFlight,
		"news_global":        news.Global,
		"news_instruments":   news.Instruments,
	})
}
