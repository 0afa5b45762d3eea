package config

import "fmt"

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// ErrVenueHostRequired 非 paper 模式下缺少交易所地址。
const ErrVenueHostRequired = ErrInvalid("venue.host is required unless paper.enabled (or MM_VENUE_HOST)")

func invalidf(format string, args ...interface{}) error {
	return ErrInvalid(fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present and within range.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if !cfg.Paper.Enabled && cfg.Venue.Host == "" {
		return ErrVenueHostRequired
	}
	if len(cfg.Instruments) == 0 {
		return ErrInvalid("instruments config is required")
	}
	seen := make(map[string]bool, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		if ic.Name == "" {
			return ErrInvalid("instrument name is required")
		}
		if seen[ic.Name] {
			return invalidf("instrument %s configured twice", ic.Name)
		}
		seen[ic.Name] = true
		if ic.TickSize <= 0 {
			return invalidf("instrument %s tickSize must be > 0", ic.Name)
		}
		if ic.BaseVolume <= 0 {
			return invalidf("instrument %s baseVolume must be > 0", ic.Name)
		}
	}
	if cfg.Risk.InternalCap <= 0 || cfg.Risk.MaxPositionPerInstrument <= 0 {
		return ErrInvalid("risk position caps must be > 0")
	}
	if cfg.Risk.MaxTotalExposure <= 0 {
		return ErrInvalid("risk.maxTotalExposure must be > 0")
	}
	if cfg.Risk.MaxRequestsPerSecond <= 0 {
		return ErrInvalid("risk.maxRequestsPerSecond must be > 0")
	}
	if cfg.Quote.MinHalfSpreadTicks <= 0 {
		return ErrInvalid("quote.minHalfSpreadTicks must be > 0")
	}
	if cfg.Quote.SkewCoefficient < 0 {
		return ErrInvalid("quote.skewCoefficient must be >= 0")
	}
	if cfg.Quote.SoftRatio <= 0 || cfg.Quote.SoftRatio > 1 {
		return ErrInvalid("quote.softRatio must be in (0, 1]")
	}
	if cfg.News.InstrumentTicks < 0 || cfg.News.GlobalTicks < 0 {
		return ErrInvalid("news ticks must be >= 0")
	}
	if cfg.News.InstrumentWindowSec < 0 || cfg.News.GlobalWindowSec < 0 {
		return ErrInvalid("news windows must be >= 0")
	}
	if cfg.Alert.DedupSec < 0 {
		return ErrInvalid("alert.dedupSec must be >= 0")
	}
	if cfg.Alert.QueueSize < 0 {
		return ErrInvalid("alert.queueSize must be >= 0")
	}
	s := cfg.Scheduler
	if s.TickMs <= 0 || s.QuoteIntervalMs <= 0 || s.PositionIntervalMs <= 0 || s.StatusIntervalMs <= 0 || s.FlushTimeoutMs <= 0 {
		return ErrInvalid("scheduler intervals must be > 0")
	}
	for name, b := range cfg.Paper.Books {
		if !seen[name] {
			return invalidf("paper book %s is not a configured instrument", name)
		}
		if b.Mid <= 0 || b.Volume <= 0 {
			return invalidf("paper book %s mid/volume must be > 0", name)
		}
	}
	return nil
}
