package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"mm-quoter/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件，不存在则忽略")
	duration := flag.Duration("duration", 0, "运行时长，0 表示直到收到信号")
	paper := flag.Bool("paper", false, "使用内存交易所，不连接真实场所")
	flag.Parse()

	c, err := container.New(container.Options{
		ConfigPath: *cfgPath,
		EnvFile:    *envFile,
		Paper:      *paper,
	})
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		c.Logger().Error("start failed", zap.Error(err))
		_ = c.Stop()
		os.Exit(1)
	}
	notify(c, daemon.SdNotifyReady)
	go watchdog(ctx, c)

	start := time.Now()
	err = c.Run(ctx, *duration)
	notify(c, daemon.SdNotifyStopping)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.Logger().Error("quoter exited with error", zap.Error(err))
	}
	c.Logger().Info("quoter exit",
		zap.Duration("uptime", time.Since(start)),
		zap.Any("status", c.Engine().Status()))

	if err := c.Stop(); err != nil {
		os.Exit(1)
	}
}

// notify 非 systemd 环境下 SdNotify 直接返回 false。
func notify(c *container.Container, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		c.Logger().Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	} else if ok {
		c.Logger().Debug("sd_notify sent", zap.String("state", state))
	}
}

// watchdog 在 systemd 配置了 WatchdogSec 时按一半间隔喂狗。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.Logger().Warn("health check failed, skipping watchdog ping", zap.Error(err))
				continue
			}
			notify(c, daemon.SdNotifyWatchdog)
		}
	}
}
