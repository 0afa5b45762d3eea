package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mm-quoter/infrastructure/logger"
)

// WSFeed 订阅新闻 websocket。消息可以是 Headline JSON，也可以是纯文本标题。
type WSFeed struct {
	URL          string
	Dialer       *websocket.Dialer
	ReadTimeout  time.Duration // 超过该时间无消息则重连
	RetryBackoff time.Duration

	handler Handler
	log     *logger.Logger
}

func NewWSFeed(url string, handler Handler, log *logger.Logger) *WSFeed {
	if log == nil {
		log = logger.NewNop()
	}
	return &WSFeed{
		URL:          url,
		Dialer:       websocket.DefaultDialer,
		ReadTimeout:  60 * time.Second,
		RetryBackoff: 2 * time.Second,
		handler:      handler,
		log:          log,
	}
}

// Run 持续读取直到 ctx 结束；断线后按 RetryBackoff 重连。
func (w *WSFeed) Run(ctx context.Context) error {
	if w.URL == "" {
		return errors.New("news ws url required")
	}
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("news ws disconnected", zap.String("url", w.URL), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.RetryBackoff):
		}
	}
}

func (w *WSFeed) session(ctx context.Context) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// ctx 结束时关闭连接以打断阻塞的读
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	w.log.Info("news ws connected", zap.String("url", w.URL))
	for {
		if w.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		h, ok := parseHeadline(message)
		if !ok {
			continue
		}
		h.Source = "ws"
		w.handler.Handle(h)
	}
}

func parseHeadline(raw []byte) (Headline, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Headline{}, false
	}
	if strings.HasPrefix(text, "{") {
		var h Headline
		if err := json.Unmarshal(raw, &h); err == nil {
			return h, h.Text != "" || h.Global || len(h.Instruments) > 0
		}
	}
	return Headline{Text: text, At: time.Now()}, true
}
