package risk

import (
	"context"
	"errors"
	"time"

	"mm-quoter/gateway"
)

// Venue 账本需要的交易所只读接口。
type Venue interface {
	GetPositions(ctx context.Context) (map[gateway.Instrument]int64, error)
	GetOutstandingOrders(ctx context.Context, instrument gateway.Instrument) (map[string]gateway.OutstandingOrder, error)
}

// Ledger 缓存交易所回报的仓位；只通过 Refresh 整体替换，本地从不推算成交。
// 仅由报价循环访问，无需加锁。
type Ledger struct {
	venue     Venue
	clock     Clock
	positions map[gateway.Instrument]int64
	lastSync  time.Time
}

func NewLedger(venue Venue, clock Clock) *Ledger {
	if clock == nil {
		clock = System
	}
	return &Ledger{
		venue:     venue,
		clock:     clock,
		positions: make(map[gateway.Instrument]int64),
	}
}

// Refresh 从交易所重新读取全部仓位；失败时保留上一次缓存并返回错误供调用方记录。
func (l *Ledger) Refresh(ctx context.Context) error {
	pos, err := l.venue.GetPositions(ctx)
	if err != nil {
		return err
	}
	l.positions = make(map[gateway.Instrument]int64, len(pos))
	for k, v := range pos {
		l.positions[k] = v
	}
	l.lastSync = l.clock.Now()
	return nil
}

// Position 返回缓存仓位，未知标的为 0。
func (l *Ledger) Position(instrument gateway.Instrument) int64 {
	return l.positions[instrument]
}

// Positions 返回缓存仓位的拷贝。
func (l *Ledger) Positions() map[gateway.Instrument]int64 {
	out := make(map[gateway.Instrument]int64, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

// TotalAbsExposure 全部标的绝对仓位之和。
func (l *Ledger) TotalAbsExposure() int64 {
	var total int64
	for _, p := range l.positions {
		total += abs(p)
	}
	return total
}

// LastSync 最近一次成功同步的时间。
func (l *Ledger) LastSync() time.Time { return l.lastSync }

// Exposure 校验前的显式刷新步骤：重新读取仓位与该标的的在途挂单。
// 读取失败按缺失处理（仓位沿用缓存，挂单视为无），快照总是可用，错误仅供记录。
func (l *Ledger) Exposure(ctx context.Context, instrument gateway.Instrument) (Exposure, error) {
	refreshErr := l.Refresh(ctx)

	exp := Exposure{
		Position:         l.Position(instrument),
		TotalAbsExposure: l.TotalAbsExposure(),
	}
	orders, ordersErr := l.venue.GetOutstandingOrders(ctx, instrument)
	if ordersErr == nil {
		for _, o := range orders {
			switch o.Side {
			case gateway.SideBid:
				exp.BidOutstanding += o.Volume
			case gateway.SideAsk:
				exp.AskOutstanding += o.Volume
			}
		}
	}
	return exp, errors.Join(refreshErr, ordersErr)
}
