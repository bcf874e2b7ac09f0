package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// DefaultRingSize 默认保留的日志行数
const DefaultRingSize = 512

// Ring 保存最近若干行日志的环形缓冲区
//
// 节点用它响应 getLogStr 控制命令。
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRing 创建容量为 size 行的环形缓冲区
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{lines: make([]string, size)}
}

// Write 实现 io.Writer，按行写入
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		r.lines[r.next] = string(line)
		r.next = (r.next + 1) % len(r.lines)
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

// Lines 按时间顺序返回保存的日志行
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// String 返回全部日志，每行一条
func (r *Ring) String() string {
	return strings.Join(r.Lines(), "\n")
}

// Tee 返回一个同时写入 l 和 ring 的 Logger
//
// ring 只接收 Info 及以上级别。
func Tee(l *slog.Logger, ring *Ring) *slog.Logger {
	secondary := slog.NewTextHandler(ring, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: replaceAttr,
	})
	return slog.New(&teeHandler{primary: l.Handler(), secondary: secondary})
}
