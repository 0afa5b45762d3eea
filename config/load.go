package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mm-quoter/infrastructure/logger"
	"mm-quoter/risk"
)

// AppConfig holds the main runtime configuration. It is read once at startup.
type AppConfig struct {
	Env         string             `yaml:"env"`
	Venue       VenueConfig        `yaml:"venue"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Risk        RiskConfig         `yaml:"risk"`
	Quote       QuoteConfig        `yaml:"quote"`
	News        NewsConfig         `yaml:"news"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Control     ControlConfig      `yaml:"control"`
	Alert       AlertConfig        `yaml:"alert"`
	Log         logger.Config      `yaml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Paper       PaperConfig        `yaml:"paper"`
}

// VenueConfig 交易所连接信息；凭证一般通过环境变量覆盖。
type VenueConfig struct {
	Host     string `yaml:"host"`
	InfoPort int    `yaml:"infoPort"`
	ExecPort int    `yaml:"execPort"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InstrumentConfig 单个标的；未填写的字段取 quote 段的默认值。
type InstrumentConfig struct {
	Name       string  `yaml:"name"`
	TickSize   float64 `yaml:"tickSize"`
	BaseVolume int64   `yaml:"baseVolume"`
}

type RiskConfig struct {
	InternalCap              int64 `yaml:"internalCap"`              // 内部单标的硬上限
	MaxPositionPerInstrument int64 `yaml:"maxPositionPerInstrument"` // 外部单标的上限
	MaxTotalExposure         int64 `yaml:"maxTotalExposure"`         // 各标的绝对仓位之和上限
	MaxRequestsPerSecond     int   `yaml:"maxRequestsPerSecond"`     // 下单/撤单请求预算
}

type QuoteConfig struct {
	TickSize           float64 `yaml:"tickSize"`
	BaseVolume         int64   `yaml:"baseVolume"`
	MinHalfSpreadTicks int     `yaml:"minHalfSpreadTicks"`
	SkewCoefficient    float64 `yaml:"skewCoefficient"`
	SoftRatio          float64 `yaml:"softRatio"`
}

type NewsConfig struct {
	InstrumentTicks     int     `yaml:"instrumentTicks"`
	InstrumentWindowSec float64 `yaml:"instrumentWindowSec"`
	GlobalTicks         int     `yaml:"globalTicks"`
	GlobalWindowSec     float64 `yaml:"globalWindowSec"`
	File                string  `yaml:"file"`  // 新闻投递文件，空表示不启用
	WSURL               string  `yaml:"wsURL"` // 新闻 websocket，空表示不启用
}

type SchedulerConfig struct {
	TickMs             int `yaml:"tickMs"`
	QuoteIntervalMs    int `yaml:"quoteIntervalMs"`
	PositionIntervalMs int `yaml:"positionIntervalMs"`
	StatusIntervalMs   int `yaml:"statusIntervalMs"`
	FlushTimeoutMs     int `yaml:"flushTimeoutMs"`
}

type ControlConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// AlertConfig 运维告警；日志通道总是开启。
type AlertConfig struct {
	WebhookURL string  `yaml:"webhookURL"`
	DedupSec   float64 `yaml:"dedupSec"`  // 同一告警的最小间隔
	QueueSize  int     `yaml:"queueSize"` // 待发送告警上限，满了丢弃
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// PaperConfig 内存交易所，用于演练。
type PaperConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Seed      int64                `yaml:"seed"`
	Books     map[string]PaperBook `yaml:"books"`
	Positions map[string]int64     `yaml:"positions"`
}

type PaperBook struct {
	Mid    float64 `yaml:"mid"`
	Levels int     `yaml:"levels"`
	Volume int64   `yaml:"volume"`
}

// Load reads YAML config from path, applies defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	ApplyDefaults(&cfg)
	return cfg, Validate(cfg)
}

func read(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads an optional .env file first, then the YAML config,
// then overrides endpoint and credential fields from env vars if present.
func LoadWithEnvOverrides(path, envFile string) (AppConfig, error) {
	if envFile != "" {
		// 已存在的环境变量优先，.env 只补缺
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_VENUE_HOST"); v != "" {
		cfg.Venue.Host = v
	}
	if v := os.Getenv("MM_VENUE_USERNAME"); v != "" {
		cfg.Venue.Username = v
	}
	if v := os.Getenv("MM_VENUE_PASSWORD"); v != "" {
		cfg.Venue.Password = v
	}
	if v := os.Getenv("MM_ALERT_WEBHOOK"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	if v := os.Getenv("MM_CONTROL_ADDR"); v != "" {
		cfg.Control.Addr = v
	}
	if v := os.Getenv("MM_MAX_REQUESTS_PER_SECOND"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, ErrInvalid("MM_MAX_REQUESTS_PER_SECOND must be an integer")
		}
		cfg.Risk.MaxRequestsPerSecond = n
	}
	ApplyDefaults(&cfg)
	return cfg, Validate(cfg)
}

// ApplyDefaults fills zero values with the quoting defaults.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Risk.InternalCap == 0 {
		cfg.Risk.InternalCap = risk.DefaultInternalCap
	}
	if cfg.Risk.MaxPositionPerInstrument == 0 {
		cfg.Risk.MaxPositionPerInstrument = 100
	}
	if cfg.Risk.MaxTotalExposure == 0 {
		cfg.Risk.MaxTotalExposure = 500
	}
	if cfg.Risk.MaxRequestsPerSecond == 0 {
		cfg.Risk.MaxRequestsPerSecond = 20
	}

	if cfg.Quote.TickSize == 0 {
		cfg.Quote.TickSize = 0.1
	}
	if cfg.Quote.BaseVolume == 0 {
		cfg.Quote.BaseVolume = 10
	}
	if cfg.Quote.MinHalfSpreadTicks == 0 {
		cfg.Quote.MinHalfSpreadTicks = 1
	}
	if cfg.Quote.SkewCoefficient == 0 {
		cfg.Quote.SkewCoefficient = 0.03
	}
	if cfg.Quote.SoftRatio == 0 {
		cfg.Quote.SoftRatio = 0.8
	}
	for i := range cfg.Instruments {
		if cfg.Instruments[i].TickSize == 0 {
			cfg.Instruments[i].TickSize = cfg.Quote.TickSize
		}
		if cfg.Instruments[i].BaseVolume == 0 {
			cfg.Instruments[i].BaseVolume = cfg.Quote.BaseVolume
		}
	}

	if cfg.News.InstrumentTicks == 0 {
		cfg.News.InstrumentTicks = 3
	}
	if cfg.News.InstrumentWindowSec == 0 {
		cfg.News.InstrumentWindowSec = 10
	}
	if cfg.News.GlobalTicks == 0 {
		cfg.News.GlobalTicks = 2
	}
	if cfg.News.GlobalWindowSec == 0 {
		cfg.News.GlobalWindowSec = 5
	}

	if cfg.Scheduler.TickMs == 0 {
		cfg.Scheduler.TickMs = 100
	}
	if cfg.Scheduler.QuoteIntervalMs == 0 {
		cfg.Scheduler.QuoteIntervalMs = 1500
	}
	if cfg.Scheduler.PositionIntervalMs == 0 {
		cfg.Scheduler.PositionIntervalMs = 5000
	}
	if cfg.Scheduler.StatusIntervalMs == 0 {
		cfg.Scheduler.StatusIntervalMs = 30000
	}
	if cfg.Scheduler.FlushTimeoutMs == 0 {
		cfg.Scheduler.FlushTimeoutMs = 10000
	}

	if cfg.Control.Addr == "" {
		cfg.Control.Addr = "127.0.0.1:8090"
	}
	if cfg.Alert.DedupSec == 0 {
		cfg.Alert.DedupSec = 60
	}
	if cfg.Alert.QueueSize == 0 {
		cfg.Alert.QueueSize = 64
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "mm"
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = "quoter"
	}
	if cfg.Paper.Seed == 0 {
		cfg.Paper.Seed = 1
	}
}

// PerInstrumentLimit 内部硬上限与外部上限取小。
func (c AppConfig) PerInstrumentLimit() int64 {
	return risk.PerInstrumentLimit(c.Risk.InternalCap, c.Risk.MaxPositionPerInstrument)
}

// InstrumentNames 按配置顺序返回标的名。
func (c AppConfig) InstrumentNames() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		out = append(out, ic.Name)
	}
	return out
}

func (s SchedulerConfig) Tick() time.Duration { return ms(s.TickMs) }

func (s SchedulerConfig) QuoteInterval() time.Duration { return ms(s.QuoteIntervalMs) }

func (s SchedulerConfig) PositionInterval() time.Duration { return ms(s.PositionIntervalMs) }

func (s SchedulerConfig) StatusInterval() time.Duration { return ms(s.StatusIntervalMs) }

func (s SchedulerConfig) FlushTimeout() time.Duration { return ms(s.FlushTimeoutMs) }

func (n NewsConfig) InstrumentWindow() time.Duration { return secs(n.InstrumentWindowSec) }

func (n NewsConfig) GlobalWindow() time.Duration { return secs(n.GlobalWindowSec) }

func (a AlertConfig) Dedup() time.Duration { return secs(a.DedupSec) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func secs(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
