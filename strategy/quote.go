package strategy

import (
	"github.com/shopspring/decimal"

	"mm-quoter/gateway"
	"mm-quoter/market"
)

// Params 报价参数。
type Params struct {
	MinHalfSpreadTicks int     // 盘口较窄时围绕公允价的最小半价差（tick）
	SkewCoefficient    float64 // 每单位库存平移公允价的 tick 数
	SoftRatio          float64 // 超过 SoftRatio*limit 后停止同向加仓
}

// DefaultParams 1 tick / 0.03 / 0.8。
func DefaultParams() Params {
	return Params{
		MinHalfSpreadTicks: 1,
		SkewCoefficient:    0.03,
		SoftRatio:          0.8,
	}
}

// Input 一次报价所需的全部输入；盘口为本轮读取的单一快照。
type Input struct {
	Instrument gateway.Instrument
	Book       gateway.Book
	Position   int64
	Tick       float64
	BaseVolume int64
	Limit      int64 // 单标的仓位上限
}

// Leg 单边报价，Volume 为 0 表示该侧不挂单。
type Leg struct {
	Price  float64
	Volume int64
}

// ClearReason 撤掉两侧报价的原因。
type ClearReason string

const (
	ReasonEmptyBook   ClearReason = "empty_book"
	ReasonNoFairValue ClearReason = "no_fair_value"
	ReasonStopOut     ClearReason = "stop_out"
	ReasonInverted    ClearReason = "inverted"
)

// Decision 报价结果：要么 Clear，要么给出两侧目标。
type Decision struct {
	Clear  bool
	Reason ClearReason

	Bid Leg
	Ask Leg

	Mid             float64
	Fair            float64
	HalfSpread      float64
	HalfSpreadTicks int
	BestBid         float64
	BestAsk         float64
}

func clearDecision(reason ClearReason) Decision {
	return Decision{Clear: true, Reason: reason}
}

// Quoter 基于 VWAP 公允价、库存倾斜、新闻加宽生成两侧报价。
type Quoter struct {
	params   Params
	widening *Widening
}

func NewQuoter(params Params, widening *Widening) *Quoter {
	if params.MinHalfSpreadTicks <= 0 {
		params.MinHalfSpreadTicks = 1
	}
	if params.SoftRatio <= 0 || params.SoftRatio > 1 {
		params.SoftRatio = 0.8
	}
	return &Quoter{params: params, widening: widening}
}

// Params 返回生效的参数。
func (q *Quoter) Params() Params { return q.params }

// Compute 纯计算，不访问交易所；风控校验与下单由调用方完成。
func (q *Quoter) Compute(in Input) Decision {
	bestBidF, bestAskF, ok := in.Book.Best()
	if !ok {
		return clearDecision(ReasonEmptyBook)
	}
	mid, ok := market.VWAPMid(in.Book)
	if !ok {
		return clearDecision(ReasonNoFairValue)
	}
	pos := in.Position
	if absInt(pos) >= in.Limit {
		return clearDecision(ReasonStopOut)
	}

	tick := dec(in.Tick)
	bestBid, bestAsk := dec(bestBidF), dec(bestAskF)

	// 多头时压低公允价，偏向卖出
	fair := dec(mid).Sub(dec(q.params.SkewCoefficient).Mul(decimal.NewFromInt(pos)).Mul(tick))

	ticks := q.params.MinHalfSpreadTicks
	if q.widening != nil {
		ticks = q.widening.EffectiveHalfSpreadTicks(in.Instrument, ticks)
	}
	baseHalf := decimal.NewFromInt(int64(ticks)).Mul(tick)

	// 不比盘口一半更窄
	bookSpread := decimal.Max(bestAsk.Sub(bestBid), tick)
	half := baseHalf
	if bookSpread.GreaterThan(baseHalf.Mul(decimal.NewFromInt(2))) {
		half = bookSpread.Div(decimal.NewFromInt(2))
	}

	bid := floorTick(fair.Sub(half), tick)
	ask := ceilTick(fair.Add(half), tick)

	if bid.GreaterThanOrEqual(bestAsk) {
		bid = bestAsk.Sub(tick)
	}
	if ask.LessThanOrEqual(bestBid) {
		ask = bestBid.Add(tick)
	}
	if bid.GreaterThanOrEqual(ask) {
		return clearDecision(ReasonInverted)
	}

	bidVol, askVol := q.sizes(pos, in.BaseVolume)

	if float64(absInt(pos)) > q.params.SoftRatio*float64(in.Limit) {
		if pos > 0 {
			bidVol = 0
		} else if pos < 0 {
			askVol = 0
		}
	}

	// 自成交保护
	if ask.Sub(bid).LessThan(tick) {
		if pos >= 0 {
			bidVol = 0
		} else {
			askVol = 0
		}
	}

	if bidVol > 0 && bid.GreaterThanOrEqual(bestAsk) {
		bidVol = 0
	}
	if askVol > 0 && ask.LessThanOrEqual(bestBid) {
		askVol = 0
	}

	return Decision{
		Bid:             Leg{Price: toFloat(bid), Volume: max(bidVol, 0)},
		Ask:             Leg{Price: toFloat(ask), Volume: max(askVol, 0)},
		Mid:             mid,
		Fair:            toFloat(fair),
		HalfSpread:      toFloat(half),
		HalfSpreadTicks: ticks,
		BestBid:         bestBidF,
		BestAsk:         bestAskF,
	}
}

// sizes 多头时买单减半、卖单放大 1.5 倍，空头反之。
func (q *Quoter) sizes(pos, base int64) (bid, ask int64) {
	small := max(int64(float64(base)*0.5), 0)
	large := max(int64(float64(base)*1.5), 1)
	switch {
	case pos > 0:
		return small, large
	case pos < 0:
		return large, small
	default:
		return base, base
	}
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
