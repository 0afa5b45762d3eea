package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 报价指标
	quotes     *prometheus.CounterVec
	fairValue  *prometheus.GaugeVec
	halfSpread *prometheus.GaugeVec

	// 订单指标
	ordersInserted *prometheus.CounterVec
	ordersDeleted  prometheus.Counter
	throttleDenied *prometheus.CounterVec

	// 风控指标
	riskRejects   *prometheus.CounterVec
	position      *prometheus.GaugeVec
	totalExposure prometheus.Gauge
	newsFlags     *prometheus.CounterVec

	// 交易所调用
	venueErrors  *prometheus.CounterVec
	venueLatency *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "quoter",
	}
}

// New 创建新的Monitor实例，使用独立 registry 以便测试互不干扰。
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	return &Monitor{
		registry: reg,

		quotes:     factory.NewCounterVec(opts("quotes_total", "报价轮次，按结果分类"), []string{"instrument", "outcome"}),
		fairValue:  factory.NewGaugeVec(gauge("fair_value", "库存倾斜后的公允价"), []string{"instrument"}),
		halfSpread: factory.NewGaugeVec(gauge("half_spread", "当前半价差（价格单位）"), []string{"instrument"}),

		ordersInserted: factory.NewCounterVec(opts("orders_inserted_total", "挂单成功总数"), []string{"side"}),
		ordersDeleted:  factory.NewCounter(opts("orders_deleted_total", "撤单成功总数")),
		throttleDenied: factory.NewCounterVec(opts("throttle_denied_total", "被请求预算拒绝的动作"), []string{"op"}),

		riskRejects:   factory.NewCounterVec(opts("risk_rejects_total", "风控拒单总数"), []string{"reason"}),
		position:      factory.NewGaugeVec(gauge("position", "交易所回报的净仓位"), []string{"instrument"}),
		totalExposure: factory.NewGauge(gauge("total_exposure", "各标的绝对仓位之和")),
		newsFlags:     factory.NewCounterVec(opts("news_flags_total", "新闻加宽触发次数"), []string{"scope"}),

		venueErrors: factory.NewCounterVec(opts("venue_errors_total", "交易所调用失败"), []string{"op", "kind"}),
		venueLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "venue_latency_seconds",
			Help:      "交易所调用延迟（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"op"}),
	}
}

func (m *Monitor) RecordQuote(instrument, outcome string) {
	m.quotes.WithLabelValues(instrument, outcome).Inc()
}

func (m *Monitor) UpdateQuote(instrument string, fair, halfSpread float64) {
	m.fairValue.WithLabelValues(instrument).Set(fair)
	m.halfSpread.WithLabelValues(instrument).Set(halfSpread)
}

func (m *Monitor) RecordOrderInserted(side string) {
	m.ordersInserted.WithLabelValues(side).Inc()
}

func (m *Monitor) RecordOrderDeleted() {
	m.ordersDeleted.Inc()
}

func (m *Monitor) RecordThrottleDenied(op string) {
	m.throttleDenied.WithLabelValues(op).Inc()
}

func (m *Monitor) RecordRiskReject(reason string) {
	m.riskRejects.WithLabelValues(reason).Inc()
}

func (m *Monitor) UpdatePosition(instrument string, pos int64) {
	m.position.WithLabelValues(instrument).Set(float64(pos))
}

func (m *Monitor) UpdateTotalExposure(v int64) {
	m.totalExposure.Set(float64(v))
}

func (m *Monitor) RecordNewsFlag(scope string) {
	m.newsFlags.WithLabelValues(scope).Inc()
}

// ObserveVenueCall 记录一次交易所调用；kind 为空表示成功。
func (m *Monitor) ObserveVenueCall(op string, seconds float64, kind string) {
	m.venueLatency.WithLabelValues(op).Observe(seconds)
	if kind != "" {
		m.venueErrors.WithLabelValues(op, kind).Inc()
	}
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
