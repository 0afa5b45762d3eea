package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"mm-quoter/gateway"
)

func TestParseHeadline(t *testing.T) {
	h, ok := parseHeadline([]byte(`{"text":"ASML up","instruments":["NVDA"]}`))
	assert.True(t, ok)
	assert.Equal(t, "ASML up", h.Text)
	assert.Equal(t, []string{"NVDA"}, h.Instruments)

	h, ok = parseHeadline([]byte("  plain @GlobalMarkets  "))
	assert.True(t, ok)
	assert.Equal(t, "plain @GlobalMarkets", h.Text)

	_, ok = parseHeadline([]byte("   "))
	assert.False(t, ok)

	h, ok = parseHeadline([]byte("{not json"))
	assert.True(t, ok)
	assert.Equal(t, "{not json", h.Text)
}

func TestWSFeedDeliversHeadlines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"ASML recall"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("@GlobalMarkets open lower"))
		// 保持连接直到客户端断开
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	flagger := &fakeFlagger{}
	feed := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), NewDispatcher(universe, flagger, nil, nil), nil)
	feed.RetryBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Run(ctx) }()

	assert.Eventually(t, func() bool {
		global, flagged := flagger.snapshot()
		return global >= 1 && len(flagged) >= 1
	}, 3*time.Second, 20*time.Millisecond)
	_, flagged := flagger.snapshot()
	assert.Equal(t, gateway.Instrument("ASML"), flagged[0])

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestWSFeedRequiresURL(t *testing.T) {
	assert.Error(t, NewWSFeed("", nil, nil).Run(context.Background()))
}
