package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mm-quoter/infrastructure/logger"
)

type recordingChannel struct {
	name string
	fail bool

	mu     sync.Mutex
	alerts []Alert
}

func (c *recordingChannel) Send(a Alert) error {
	if c.fail {
		return errors.New("channel down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

// blockingChannel 在 release 关闭前一直阻塞。
type blockingChannel struct {
	recordingChannel
	release chan struct{}
}

func (c *blockingChannel) Send(a Alert) error {
	<-c.release
	return c.recordingChannel.Send(a)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendSetsTimestampAndFansOut(t *testing.T) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	a, b := &recordingChannel{name: "a"}, &recordingChannel{name: "b"}
	mgr := NewManager([]Channel{a, b}, Config{Dedup: time.Minute, Now: clk.now})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	if err := mgr.Warn("stop_out:ASML", "stop-out", map[string]interface{}{"instrument": "ASML"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 })

	a.mu.Lock()
	got := a.alerts[0]
	a.mu.Unlock()
	if got.Level != LevelWarning || got.Key != "stop_out:ASML" {
		t.Fatalf("unexpected alert %+v", got)
	}
	if !got.Timestamp.Equal(clk.t) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, clk.t)
	}
}

func TestDedupWindowAndResolve(t *testing.T) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	mgr := NewManager(nil, Config{Dedup: time.Minute, Now: clk.now})

	for i := 0; i < 3; i++ {
		_ = mgr.Error("positions", "position sync failed", nil)
	}
	if len(mgr.queue) != 1 {
		t.Fatalf("expected dedup to 1, got %d", len(mgr.queue))
	}

	// 不同键不受影响
	_ = mgr.Error("book:ASML", "book read failed", nil)
	if len(mgr.queue) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(mgr.queue))
	}

	clk.t = clk.t.Add(time.Minute)
	_ = mgr.Error("positions", "position sync failed", nil)
	if len(mgr.queue) != 3 {
		t.Fatalf("expected window expiry to allow resend, got %d", len(mgr.queue))
	}

	mgr.Resolve("positions")
	_ = mgr.Error("positions", "position sync failed", nil)
	if len(mgr.queue) != 4 {
		t.Fatalf("expected resolve to reset dedup, got %d", len(mgr.queue))
	}
}

func TestDefaultKeyUsesLevelAndMessage(t *testing.T) {
	mgr := NewManager(nil, Config{Dedup: time.Hour})

	_ = mgr.Send(Alert{Level: LevelInfo, Message: "same"})
	_ = mgr.Send(Alert{Level: LevelInfo, Message: "same"})
	_ = mgr.Send(Alert{Level: LevelCritical, Message: "same"})
	if len(mgr.queue) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(mgr.queue))
	}
}

func TestSendDoesNotWaitForSlowChannel(t *testing.T) {
	slow := &blockingChannel{recordingChannel: recordingChannel{name: "slow"}, release: make(chan struct{})}
	mgr := NewManager([]Channel{slow}, Config{Dedup: time.Minute})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	start := time.Now()
	for _, key := range []string{"stop_out:ASML", "stop_out:NVDA", "position_sync"} {
		if err := mgr.Warn(key, "blocked", nil); err != nil {
			t.Fatalf("send %s: %v", key, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("send waited on channel: %v", elapsed)
	}

	close(slow.release)
	if err := mgr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if slow.count() != 3 {
		t.Fatalf("expected queued alerts delivered on stop, got %d", slow.count())
	}
}

func TestQueueFullDropsWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ch := &recordingChannel{name: "rec"}
	mgr := NewManager([]Channel{ch}, Config{Dedup: time.Minute, QueueSize: 1, Logger: logger.Wrap(zap.New(core))})

	if err := mgr.Warn("k1", "first", nil); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := mgr.Warn("k2", "second", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	// 丢弃后不占用去重窗口
	if err := mgr.Warn("k2", "second", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected retry to reach the queue, got %v", err)
	}
	if mgr.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", mgr.Dropped())
	}
	entries := logs.FilterMessage("alert queue full, dropping alert").All()
	if len(entries) != 2 || entries[0].ContextMap()["alert_key"] != "k2" {
		t.Fatalf("unexpected drop logs %+v", entries)
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()
	waitFor(t, func() bool { return ch.count() == 1 })
	if err := mgr.Warn("k2", "second", nil); err != nil {
		t.Fatalf("send after drain: %v", err)
	}
	waitFor(t, func() bool { return ch.count() == 2 })
}

func TestStartStopIdempotent(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	mgr := NewManager([]Channel{ch}, Config{Dedup: time.Minute})
	for i := 0; i < 3; i++ {
		_ = mgr.Warn(string(rune('a'+i)), "queued before start", nil)
	}
	if err := mgr.Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	_ = mgr.Start(context.Background())
	_ = mgr.Start(context.Background())
	if !mgr.Running() {
		t.Fatal("expected running")
	}
	if err := mgr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if mgr.Running() || ch.count() != 3 {
		t.Fatalf("running=%v delivered=%d", mgr.Running(), ch.count())
	}
	if err := mgr.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestDeliverChannelFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bad := &recordingChannel{name: "bad", fail: true}
	mgr := NewManager([]Channel{bad}, Config{Dedup: time.Minute, Logger: logger.Wrap(zap.New(core))})
	if err := mgr.deliver(Alert{Level: LevelWarning, Key: "k1"}); err == nil {
		t.Fatal("expected error when every channel fails")
	}
	if logs.FilterMessage("alert delivery failed").Len() != 1 {
		t.Fatal("expected delivery failure to be logged")
	}

	good := &recordingChannel{name: "good"}
	mgr.AddChannel(good)
	if err := mgr.deliver(Alert{Level: LevelWarning, Key: "k2"}); err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if good.count() != 1 {
		t.Fatalf("good channel should receive alert")
	}
	names := mgr.Channels()
	if len(names) != 2 || names[0] != "bad" || names[1] != "good" {
		t.Fatalf("channels = %v", names)
	}
}

func TestLogChannelLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ch := NewLogChannel(logger.Wrap(zap.New(core)))

	_ = ch.Send(Alert{Level: LevelWarning, Key: "k", Message: "warned", Fields: map[string]interface{}{"instrument": "ASML"}})
	_ = ch.Send(Alert{Level: LevelCritical, Message: "critical"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["instrument"] != "ASML" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].ContextMap()["alert_key"] != "CRITICAL:critical" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestWebhookChannel(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	if err := ch.Send(Alert{Level: LevelError, Key: "positions", Message: "position sync failed"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Level != "ERROR" || got.Key != "positions" || got.Message != "position sync failed" {
		t.Fatalf("unexpected payload %+v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	if err := NewWebhookChannel(failing.URL).Send(Alert{Level: LevelError, Message: "x"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestConcurrentSend(t *testing.T) {
	mgr := NewManager(nil, Config{Dedup: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.Warn("same", "burst", nil)
		}()
	}
	wg.Wait()
	if len(mgr.queue) != 1 {
		t.Fatalf("expected exactly one queued alert, got %d", len(mgr.queue))
	}
}
