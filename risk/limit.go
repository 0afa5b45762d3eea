package risk

import (
	"errors"
	"fmt"

	"mm-quoter/gateway"
)

var (
	ErrNonPositiveVolume = errors.New("non-positive volume")
	ErrInstrumentLimit   = errors.New("per-instrument limit exceed")
	ErrTotalExposure     = errors.New("total exposure exceed")
)

// DefaultInternalCap 内部单标的硬上限，与外部配置取较小者。
const DefaultInternalCap int64 = 90

// Limits 配置。
type Limits struct {
	PerInstrument int64
	TotalExposure int64
}

// PerInstrumentLimit 取内部硬上限与外部上限的较小者。
func PerInstrumentLimit(internalCap, externalCap int64) int64 {
	if internalCap < externalCap {
		return internalCap
	}
	return externalCap
}

// Exposure 某标的在一次校验时刻的仓位快照。
type Exposure struct {
	Position         int64
	BidOutstanding   int64
	AskOutstanding   int64
	TotalAbsExposure int64
}

// Check 纯函数：按最坏情况（全部挂单与新单均成交）校验单标的上限，
// 再校验全部标的绝对仓位之和加上新单是否超出总敞口上限。
func Check(exp Exposure, side gateway.Side, volume int64, lim Limits) error {
	if volume <= 0 {
		return fmt.Errorf("%w: %d", ErrNonPositiveVolume, volume)
	}
	// 挂单量不区分方向，保守地全部计入
	outstanding := exp.BidOutstanding + exp.AskOutstanding
	var worst int64
	if side == gateway.SideBid {
		worst = exp.Position + outstanding + volume
	} else {
		worst = exp.Position - outstanding - volume
	}
	if abs(worst) > lim.PerInstrument {
		return fmt.Errorf("%w: worst %d > limit %d", ErrInstrumentLimit, worst, lim.PerInstrument)
	}
	if total := exp.TotalAbsExposure + volume; total > lim.TotalExposure {
		return fmt.Errorf("%w: %d > total %d", ErrTotalExposure, total, lim.TotalExposure)
	}
	return nil
}

// WithinLimits 是 Check 的布尔形式。
func WithinLimits(exp Exposure, side gateway.Side, volume int64, lim Limits) bool {
	return Check(exp, side, volume, lim) == nil
}

// Reason 把 Check 的错误映射为指标标签。
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNonPositiveVolume):
		return "volume"
	case errors.Is(err, ErrInstrumentLimit):
		return "instrument_limit"
	case errors.Is(err, ErrTotalExposure):
		return "total_exposure"
	default:
		return "other"
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
