package order

import "mm-quoter/gateway"

// QuoteState 单个标的的报价状态。
type QuoteState string

const (
	StateNoQuote  QuoteState = "NO_QUOTE"
	StateQuoted   QuoteState = "QUOTED"
	StateRequoted QuoteState = "REQUOTED"
)

// Slots 每个标的每侧最多一个挂单 id，空串表示该侧无挂单。
type Slots struct {
	Bid string
	Ask string
}

// Get 返回某侧的挂单 id。
func (s Slots) Get(side gateway.Side) string {
	if side == gateway.SideAsk {
		return s.Ask
	}
	return s.Bid
}

func (s *Slots) set(side gateway.Side, id string) {
	if side == gateway.SideAsk {
		s.Ask = id
		return
	}
	s.Bid = id
}

// Empty 两侧均无挂单。
func (s Slots) Empty() bool {
	return s.Bid == "" && s.Ask == ""
}

// next 根据本轮结束后的挂单情况推进状态。
func next(prev QuoteState, slots Slots) QuoteState {
	if slots.Empty() {
		return StateNoQuote
	}
	if prev == StateNoQuote || prev == "" {
		return StateQuoted
	}
	return StateRequoted
}
