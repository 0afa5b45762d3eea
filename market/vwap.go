package market

import "mm-quoter/gateway"

// VWAPMid 分别计算买卖两侧的成交量加权均价并取平均。
// 任一侧为空或总量 <= 0 时返回 false。
func VWAPMid(book gateway.Book) (float64, bool) {
	bid, ok := sideVWAP(book.Bids)
	if !ok {
		return 0, false
	}
	ask, ok := sideVWAP(book.Asks)
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

func sideVWAP(levels []gateway.Level) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	var notional float64
	var volume int64
	for _, l := range levels {
		notional += l.Price * float64(l.Volume)
		volume += l.Volume
	}
	if volume <= 0 {
		return 0, false
	}
	return notional / float64(volume), true
}
