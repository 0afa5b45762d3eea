package news

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mm-quoter/infrastructure/logger"
)

// Handler 处理一条新闻。
type Handler interface {
	Handle(h Headline) Verdict
}

// FileFeed 监听一个投递文件，每追加一行视为一条新闻。
// 监听所在目录而不是文件本身，这样文件被删除重建后仍能继续读取。
type FileFeed struct {
	path    string
	handler Handler
	log     *logger.Logger
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	offset int64

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewFileFeed 创建文件新闻源；已存在的内容视为历史，不会重放。
func NewFileFeed(path string, handler Handler, log *logger.Logger) (*FileFeed, error) {
	if log == nil {
		log = logger.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	f := &FileFeed{
		path:     filepath.Clean(path),
		handler:  handler,
		log:      log,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	if info, err := os.Stat(f.path); err == nil {
		f.offset = info.Size()
	}
	return f, nil
}

// Start 启动监听
func (f *FileFeed) Start(ctx context.Context) error {
	if err := f.watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch news dir: %w", err)
	}
	go f.watch(ctx)
	return nil
}

// Stop 停止监听
func (f *FileFeed) Stop() error {
	f.stopOnce.Do(func() { close(f.stopChan) })
	select {
	case <-f.doneChan:
	case <-time.After(time.Second):
	}
	return f.watcher.Close()
}

func (f *FileFeed) watch(ctx context.Context) {
	defer close(f.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopChan:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				f.drain()
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				f.mu.Lock()
				f.offset = 0
				f.mu.Unlock()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			f.log.Warn("news file watcher error", zap.Error(err))
		}
	}
}

// drain 读取上次位置之后的完整行；文件被截断时从头读。
func (f *FileFeed) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		f.log.Warn("open news file failed", zap.Error(err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}
	if info.Size() < f.offset {
		f.offset = 0
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// 不完整的最后一行留到下次写入
			return
		}
		f.offset += int64(len(line))
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		f.handler.Handle(Headline{Text: text, Source: "file", At: time.Now()})
	}
}
