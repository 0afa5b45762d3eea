package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mm-quoter/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	logger *logger.Logger
}

func NewLogChannel(log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{logger: log}
}

func (c *LogChannel) Send(alert Alert) error {
	level := zapcore.WarnLevel
	switch alert.Level {
	case LevelInfo:
		level = zapcore.InfoLevel
	case LevelError, LevelCritical:
		level = zapcore.ErrorLevel
	}
	if ce := c.logger.Check(level, alert.Message); ce != nil {
		fields := []zap.Field{
			zap.String("alert_level", string(alert.Level)),
			zap.String("alert_key", alert.dedupKey()),
			zap.Time("alert_ts", alert.Timestamp),
		}
		for k, v := range alert.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		ce.Write(fields...)
	}
	return nil
}

func (c *LogChannel) Name() string { return "log" }

// WebhookChannel 以 JSON POST 推送告警（如 IM 机器人）。
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

type webhookPayload struct {
	Level     string                 `json:"level"`
	Key       string                 `json:"key"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (c *WebhookChannel) Send(alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Level:     string(alert.Level),
		Key:       alert.dedupKey(),
		Message:   alert.Message,
		Timestamp: alert.Timestamp,
		Fields:    alert.Fields,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	resp, err := c.Client.Post(c.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string { return "webhook" }
