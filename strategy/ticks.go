package strategy

import "github.com/shopspring/decimal"

// 价格换算成 tick 数时吸收 1e-9 tick 以内的浮点误差，避免 99.9/0.1 = 998.999.. 被向下取整。
const tickNoisePlaces = 9

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FloorToTick 向下对齐到 tick 网格。
func FloorToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return toFloat(floorTick(dec(price), dec(tick)))
}

// CeilToTick 向上对齐到 tick 网格。
func CeilToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return toFloat(ceilTick(dec(price), dec(tick)))
}

func floorTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Round(tickNoisePlaces).Floor().Mul(tick)
}

func ceilTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Round(tickNoisePlaces).Ceil().Mul(tick)
}
