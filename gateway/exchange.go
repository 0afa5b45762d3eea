package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Instrument 交易标的标识。
type Instrument string

// Side 报价方向。
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level 单个价格档位。
type Level struct {
	Price  float64
	Volume int64
}

// Book 一次性读取的盘口快照：Bids 价格降序，Asks 价格升序。
type Book struct {
	Instrument Instrument
	Bids       []Level
	Asks       []Level
}

// Best 返回买一/卖一；任一侧为空时 ok 为 false。
func (b Book) Best() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// OutstandingOrder 交易所侧仍在挂的订单。
type OutstandingOrder struct {
	Side   Side
	Price  float64
	Volume int64
}

// InsertRequest 限价单请求。
type InsertRequest struct {
	Instrument Instrument
	Side       Side
	Price      float64
	Volume     int64
}

// Exchange 交易所连接层的最小契约，由外部客户端实现。
// 任何调用都可能失败，失败统一以 *CallError 返回。
type Exchange interface {
	GetLastPriceBook(ctx context.Context, instrument Instrument) (Book, error)
	GetPositions(ctx context.Context) (map[Instrument]int64, error)
	GetOutstandingOrders(ctx context.Context, instrument Instrument) (map[string]OutstandingOrder, error)
	InsertOrder(ctx context.Context, req InsertRequest) (string, error)
	DeleteOrder(ctx context.Context, instrument Instrument, orderID string) error
}

// Kind 调用失败的分类。
type Kind int

const (
	KindNone Kind = iota
	KindTransport
	KindRejected
	KindUnknownOrder
	KindThrottled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindUnknownOrder:
		return "unknown_order"
	case KindThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Op 交易所调用名，用于日志与指标标签。
type Op string

const (
	OpBook        Op = "book"
	OpPositions   Op = "positions"
	OpOutstanding Op = "outstanding"
	OpInsert      Op = "insert"
	OpDelete      Op = "delete"
)

// CallError 描述一次失败的交易所调用。
type CallError struct {
	Op         Op
	Instrument Instrument
	Kind       Kind
	Err        error
}

func (e *CallError) Error() string {
	if e.Instrument != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Instrument, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

var (
	ErrThrottled    = errors.New("request budget exhausted")
	ErrUnknownOrder = errors.New("unknown order")
	ErrEmptyBook    = errors.New("empty book")
)

// NewCallError 包装底层错误；已是 CallError 时原样返回。
func NewCallError(op Op, instrument Instrument, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Op: op, Instrument: instrument, Kind: kind, Err: err}
}

// KindOf 提取失败分类；非 CallError 的错误视为传输失败。
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrThrottled) {
		return KindThrottled
	}
	if errors.Is(err, ErrUnknownOrder) {
		return KindUnknownOrder
	}
	return KindTransport
}
