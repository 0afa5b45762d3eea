package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mm-quoter/infrastructure/alert"
	"mm-quoter/infrastructure/logger"
	"mm-quoter/internal/control"
	"mm-quoter/news"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start %s failed: %w", component.Name(), err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件，汇总全部错误
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.components[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// Names 已注册组件名，按启动顺序。
func (m *LifecycleManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, c.Name())
	}
	return out
}

// alertComponent 告警投递协程；最先启动、最后停止。
type alertComponent struct {
	alerts *alert.Manager
}

func (a *alertComponent) Name() string { return "alerts" }

func (a *alertComponent) Start(ctx context.Context) error {
	return a.alerts.Start(ctx)
}

func (a *alertComponent) Stop() error {
	if err := a.alerts.Stop(); err != nil {
		return fmt.Errorf("alert worker: %w", err)
	}
	return nil
}

func (a *alertComponent) Health() error {
	if !a.alerts.Running() {
		return errors.New("alert worker not running")
	}
	return nil
}

// controlComponent 运维 HTTP 接口
type controlComponent struct {
	server  *control.Server
	logger  *logger.Logger
	started bool
	mu      sync.Mutex
}

func (c *controlComponent) Name() string { return "control_api" }

func (c *controlComponent) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.server.Start(); err != nil {
		return err
	}
	c.started = true
	return nil
}

func (c *controlComponent) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control api shutdown failed: %w", err)
	}
	c.logger.Info("control api stopped")
	c.started = false
	return nil
}

func (c *controlComponent) Health() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return errors.New("not started")
	}
	return nil
}

// fileFeedComponent 新闻投递文件
type fileFeedComponent struct {
	feed    *news.FileFeed
	started bool
	mu      sync.Mutex
}

func (f *fileFeedComponent) Name() string { return "news_file" }

func (f *fileFeedComponent) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := f.feed.Start(ctx); err != nil {
		return err
	}
	f.started = true
	return nil
}

func (f *fileFeedComponent) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.started = false
	return f.feed.Stop()
}

func (f *fileFeedComponent) Health() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return errors.New("not started")
	}
	return nil
}

// wsFeedComponent 新闻 websocket，断线自动重连，因此只要在运行即视为健康。
type wsFeedComponent struct {
	feed   *news.WSFeed
	logger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *wsFeedComponent) Name() string { return "news_ws" }

func (w *wsFeedComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		if err := w.feed.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("news ws feed stopped", zap.Error(err))
		}
	}()
	return nil
}

func (w *wsFeedComponent) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
	}
	w.cancel = nil
	return nil
}

func (w *wsFeedComponent) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return errors.New("not started")
	}
	return nil
}
