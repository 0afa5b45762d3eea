package news

import (
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mm-quoter/gateway"
	"mm-quoter/infrastructure/logger"
)

// 出现任一标签即视为全局新闻。
var globalTags = []string{"@globalmarkets", "#globaleconomy"}

// Headline 一条新闻；Global/Instruments 为来源显式给出的标注，会与正文识别结果合并。
type Headline struct {
	Text        string    `json:"text"`
	Global      bool      `json:"global,omitempty"`
	Instruments []string  `json:"instruments,omitempty"`
	Source      string    `json:"source,omitempty"`
	At          time.Time `json:"at,omitempty"`
}

// Verdict 分类结果。
type Verdict struct {
	Global      bool
	Instruments []gateway.Instrument
}

// Empty 既非全局也未命中任何标的。
func (v Verdict) Empty() bool {
	return !v.Global && len(v.Instruments) == 0
}

// Classify 识别全局标签（不区分大小写）以及正文中完整出现的标的代码（区分大小写，支持 $ASML）。
func Classify(text string, universe []gateway.Instrument) Verdict {
	var v Verdict
	lower := strings.ToLower(text)
	for _, tag := range globalTags {
		if strings.Contains(lower, tag) {
			v.Global = true
			break
		}
	}
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.'
	})
	seen := make(map[gateway.Instrument]bool)
	for _, tok := range tokens {
		tok = strings.TrimRight(tok, ".")
		for _, instrument := range universe {
			if tok == string(instrument) && !seen[instrument] {
				seen[instrument] = true
				v.Instruments = append(v.Instruments, instrument)
			}
		}
	}
	return v
}

// Flagger 新闻加宽的接收方。
type Flagger interface {
	FlagInstrument(instrument gateway.Instrument) time.Time
	FlagGlobal() time.Time
}

// Recorder 新闻指标。
type Recorder interface {
	RecordNewsFlag(scope string)
}

// Dispatcher 把各来源的新闻转成加宽信号，并统一记录日志与指标。
type Dispatcher struct {
	universe map[gateway.Instrument]bool
	ordered  []gateway.Instrument
	flagger  Flagger
	log      *logger.Logger
	metrics  Recorder
}

func NewDispatcher(universe []gateway.Instrument, flagger Flagger, log *logger.Logger, metrics Recorder) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Dispatcher{
		universe: make(map[gateway.Instrument]bool, len(universe)),
		ordered:  append([]gateway.Instrument(nil), universe...),
		flagger:  flagger,
		log:      log,
		metrics:  metrics,
	}
	for _, instrument := range universe {
		d.universe[instrument] = true
	}
	return d
}

// Known 标的是否属于配置的交易范围。
func (d *Dispatcher) Known(instrument gateway.Instrument) bool {
	return d.universe[instrument]
}

// FlagGlobal 触发全局加宽。
func (d *Dispatcher) FlagGlobal(source string) time.Time {
	until := d.flagger.FlagGlobal()
	d.record("global", until, source)
	return until
}

// FlagInstrument 触发单标的加宽；未知标的返回 false。
func (d *Dispatcher) FlagInstrument(instrument gateway.Instrument, source string) (time.Time, bool) {
	if !d.Known(instrument) {
		return time.Time{}, false
	}
	until := d.flagger.FlagInstrument(instrument)
	d.record(string(instrument), until, source)
	return until, true
}

// Handle 分类并应用一条新闻。
func (d *Dispatcher) Handle(h Headline) Verdict {
	v := Classify(h.Text, d.ordered)
	v.Global = v.Global || h.Global
	for _, name := range h.Instruments {
		instrument := gateway.Instrument(name)
		if !d.Known(instrument) || contains(v.Instruments, instrument) {
			continue
		}
		v.Instruments = append(v.Instruments, instrument)
	}
	if v.Global {
		d.FlagGlobal(h.Source)
	}
	for _, instrument := range v.Instruments {
		d.FlagInstrument(instrument, h.Source)
	}
	if v.Empty() {
		d.log.Debug("headline ignored", zap.String("source", h.Source), zap.String("text", h.Text))
	}
	return v
}

func (d *Dispatcher) record(scope string, until time.Time, source string) {
	if d.metrics != nil {
		d.metrics.RecordNewsFlag(scope)
	}
	d.log.Event(zapcore.InfoLevel, "news_flag", map[string]interface{}{
		"scope":      scope,
		"expires_at": until.UTC().Format(time.RFC3339Nano),
		"source":     source,
	})
}

func contains(list []gateway.Instrument, v gateway.Instrument) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
