package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mm-quoter/config"
	"mm-quoter/gateway"
	"mm-quoter/infrastructure/alert"
	"mm-quoter/infrastructure/logger"
	"mm-quoter/infrastructure/monitor"
	"mm-quoter/internal/control"
	"mm-quoter/internal/engine"
	"mm-quoter/news"
	"mm-quoter/order"
	"mm-quoter/risk"
	"mm-quoter/strategy"
)

// ErrNoVenue 既没有注入交易所客户端也未启用 paper 模式。
var ErrNoVenue = errors.New("no venue client: enable paper mode or inject an exchange client")

// Options 构建参数
type Options struct {
	ConfigPath string
	EnvFile    string
	Paper      bool             // 强制使用内存交易所
	Venue      gateway.Exchange // 外部提供的交易所客户端
	Logger     *logger.Logger   // 为空时按配置创建
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg  *config.AppConfig
	opts Options

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 交易所
	paper *gateway.Paper
	venue gateway.Exchange

	// 核心服务
	throttle   *gateway.Throttle
	ledger     *risk.Ledger
	widening   *strategy.Widening
	quoter     *strategy.Quoter
	orders     *order.Manager
	engine     *engine.Engine
	dispatcher *news.Dispatcher
	control    *control.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 读取配置并创建Container实例
func New(opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		// paper 模式下不需要交易所地址，仅此错误可以补上后再校验一次
		if !opts.Paper || !errors.Is(err, config.ErrVenueHostRequired) {
			return nil, fmt.Errorf("load config failed: %w", err)
		}
		cfg.Paper.Enabled = true
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("load config failed: %w", err)
		}
	}
	return NewFromConfig(cfg, opts), nil
}

// NewFromConfig 使用已加载的配置
func NewFromConfig(cfg config.AppConfig, opts Options) *Container {
	if opts.Paper {
		cfg.Paper.Enabled = true
	}
	return &Container{
		cfg:       &cfg,
		opts:      opts,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildVenue(); err != nil {
		return fmt.Errorf("build venue failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully",
		zap.Strings("instruments", c.cfg.InstrumentNames()),
		zap.Bool("paper", c.paper != nil),
		zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.opts.Logger != nil {
		c.logger = c.opts.Logger
	} else {
		var err error
		c.logger, err = logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
	}
	c.monitor = monitor.New(monitor.Config{
		Namespace: c.cfg.Metrics.Namespace,
		Subsystem: c.cfg.Metrics.Subsystem,
	})
	channels := []alert.Channel{alert.NewLogChannel(c.logger)}
	if c.cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(c.cfg.Alert.WebhookURL))
	}
	c.alerts = alert.NewManager(channels, alert.Config{
		Dedup:     c.cfg.Alert.Dedup(),
		QueueSize: c.cfg.Alert.QueueSize,
		Logger:    c.logger,
	})
	return nil
}

func (c *Container) buildVenue() error {
	var raw gateway.Exchange
	switch {
	case c.opts.Venue != nil:
		raw = c.opts.Venue
	case c.cfg.Paper.Enabled:
		c.paper = gateway.NewPaper(c.cfg.Paper.Seed)
		for _, ic := range c.cfg.Instruments {
			instrument := gateway.Instrument(ic.Name)
			b, ok := c.cfg.Paper.Books[ic.Name]
			if !ok {
				b = config.PaperBook{Mid: 100, Levels: 3, Volume: 20}
			}
			c.paper.Seed(instrument, b.Mid, ic.TickSize, b.Levels, b.Volume)
		}
		for name, pos := range c.cfg.Paper.Positions {
			c.paper.SetPosition(gateway.Instrument(name), pos)
		}
		raw = c.paper
	default:
		return ErrNoVenue
	}
	c.venue = gateway.NewInstrumented(raw, c.monitor)
	return nil
}

func (c *Container) buildCoreServices() error {
	cfg := c.cfg
	clock := risk.System

	c.throttle = gateway.NewThrottle(cfg.Risk.MaxRequestsPerSecond, nil)
	c.ledger = risk.NewLedger(c.venue, clock)
	c.widening = strategy.NewWidening(strategy.WideningConfig{
		InstrumentTicks:  cfg.News.InstrumentTicks,
		InstrumentWindow: cfg.News.InstrumentWindow(),
		GlobalTicks:      cfg.News.GlobalTicks,
		GlobalWindow:     cfg.News.GlobalWindow(),
	}, clock)
	c.quoter = strategy.NewQuoter(strategy.Params{
		MinHalfSpreadTicks: cfg.Quote.MinHalfSpreadTicks,
		SkewCoefficient:    cfg.Quote.SkewCoefficient,
		SoftRatio:          cfg.Quote.SoftRatio,
	}, c.widening)
	c.orders = order.NewManager(c.venue, c.throttle, c.logger, c.monitor)

	limit := cfg.PerInstrumentLimit()
	specs := make([]engine.InstrumentSpec, 0, len(cfg.Instruments))
	universe := make([]gateway.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		instrument := gateway.Instrument(ic.Name)
		universe = append(universe, instrument)
		specs = append(specs, engine.InstrumentSpec{
			Instrument: instrument,
			Tick:       ic.TickSize,
			BaseVolume: ic.BaseVolume,
			Limit:      limit,
		})
	}

	var err error
	c.engine, err = engine.New(engine.Config{
		Instruments:      specs,
		TotalExposure:    cfg.Risk.MaxTotalExposure,
		TickInterval:     cfg.Scheduler.Tick(),
		PositionInterval: cfg.Scheduler.PositionInterval(),
		QuoteInterval:    cfg.Scheduler.QuoteInterval(),
		StatusInterval:   cfg.Scheduler.StatusInterval(),
		FlushTimeout:     cfg.Scheduler.FlushTimeout(),
	}, engine.Components{
		Venue:    c.venue,
		Ledger:   c.ledger,
		Quoter:   c.quoter,
		Orders:   c.orders,
		Widening: c.widening,
		Throttle: c.throttle,
		Clock:    clock,
		Logger:   c.logger,
		Metrics:  c.monitor,
		Alerts:   c.alerts,
	})
	if err != nil {
		return err
	}

	c.dispatcher = news.NewDispatcher(universe, c.widening, c.logger, c.monitor)
	return nil
}

func (c *Container) registerLifecycleComponents() error {
	c.lifecycle.Register(&alertComponent{alerts: c.alerts})
	if c.cfg.Control.Enabled {
		c.control = control.NewServer(control.Config{
			Addr:           c.cfg.Control.Addr,
			AllowedOrigins: c.cfg.Control.AllowedOrigins,
		}, c.engine, c.dispatcher, c.monitor.Handler(), c.logger)
		c.lifecycle.Register(&controlComponent{server: c.control, logger: c.logger})
	}
	if c.cfg.News.File != "" {
		feed, err := news.NewFileFeed(c.cfg.News.File, c.dispatcher, c.logger)
		if err != nil {
			return err
		}
		c.lifecycle.Register(&fileFeedComponent{feed: feed})
	}
	if c.cfg.News.WSURL != "" {
		c.lifecycle.Register(&wsFeedComponent{
			feed:   news.NewWSFeed(c.cfg.News.WSURL, c.dispatcher, c.logger),
			logger: c.logger,
		})
	}
	return nil
}

// Start 启动辅助组件（控制接口、新闻源）
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Run 在当前协程运行报价循环，返回前已撤掉所有挂单。
func (c *Container) Run(ctx context.Context, duration time.Duration) error {
	return c.engine.Run(ctx, duration)
}

// Stop 停止辅助组件并刷新日志
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig       { return *c.cfg }
func (c *Container) Logger() *logger.Logger         { return c.logger }
func (c *Container) Monitor() *monitor.Monitor      { return c.monitor }
func (c *Container) Alerts() *alert.Manager         { return c.alerts }
func (c *Container) Engine() *engine.Engine         { return c.engine }
func (c *Container) Widening() *strategy.Widening   { return c.widening }
func (c *Container) Dispatcher() *news.Dispatcher   { return c.dispatcher }
func (c *Container) Paper() *gateway.Paper          { return c.paper }
func (c *Container) ControlServer() *control.Server { return c.control }
