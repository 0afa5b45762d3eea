package news

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-quoter/gateway"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileFeedReadsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headlines.txt")
	// 启动前已有内容不重放
	appendLine(t, path, "NVDA old news\n")

	flagger := &fakeFlagger{}
	feed, err := NewFileFeed(path, NewDispatcher(universe, flagger, nil, nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, feed.Start(ctx))
	defer feed.Stop()

	appendLine(t, path, "ASML wins order\n")
	appendLine(t, path, "#GlobalEconomy\n")

	assert.Eventually(t, func() bool {
		global, flagged := flagger.snapshot()
		return global == 1 && len(flagged) == 1
	}, 3*time.Second, 20*time.Millisecond)

	_, flagged := flagger.snapshot()
	assert.Equal(t, []gateway.Instrument{"ASML"}, flagged)
}

func TestFileFeedWaitsForCompleteLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headlines.txt")

	flagger := &fakeFlagger{}
	feed, err := NewFileFeed(path, NewDispatcher(universe, flagger, nil, nil), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, feed.Start(ctx))
	defer feed.Stop()

	appendLine(t, path, "NVDA partial")
	time.Sleep(100 * time.Millisecond)
	_, flagged := flagger.snapshot()
	assert.Empty(t, flagged)

	appendLine(t, path, " line\n")
	assert.Eventually(t, func() bool {
		_, flagged := flagger.snapshot()
		return len(flagged) == 1
	}, 3*time.Second, 20*time.Millisecond)
}
