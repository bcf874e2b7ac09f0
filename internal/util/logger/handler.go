package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	// globalOutput 全局日志输出目标，默认为 stderr
	globalOutput   io.Writer = os.Stderr
	globalOutputMu sync.RWMutex
)

// dynamicWriter 每次写入时查找 globalOutput
type dynamicWriter struct{}

func (w *dynamicWriter) Write(p []byte) (n int, err error) {
	globalOutputMu.RLock()
	output := globalOutput
	globalOutputMu.RUnlock()
	return output.Write(p)
}

// subsystemHandler 支持运行时调整级别的 slog.Handler
//
// 级别保存在共享的 slog.LevelVar 中，因此 With 派生出的 Logger 同样受 SetLevel 影响。
type subsystemHandler struct {
	level *slog.LevelVar
	inner slog.Handler
}

// newHandler 创建新的子系统 Handler
func newHandler(subsystem string, cfg *Config) *subsystemHandler {
	level := new(slog.LevelVar)
	level.Set(cfg.LevelForSubsystem(subsystem))

	opts := &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr,
	}

	var inner slog.Handler
	if cfg.Format == FormatJSON {
		inner = slog.NewJSONHandler(&dynamicWriter{}, opts)
	} else {
		inner = slog.NewTextHandler(&dynamicWriter{}, opts)
	}

	return &subsystemHandler{
		level: level,
		inner: inner.WithAttrs([]slog.Attr{slog.String("subsystem", subsystem)}),
	}
}

// replaceAttr 简化时间键与级别名称
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(levelToString(lvl))
		}
	}
	return a
}

// Enabled 检查是否启用指定级别
func (h *subsystemHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle 处理日志记录
func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

// WithAttrs 添加属性
func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{level: h.level, inner: h.inner.WithAttrs(attrs)}
}

// WithGroup 添加组
func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{level: h.level, inner: h.inner.WithGroup(name)}
}

// levelToString 将日志级别转换为小写字符串
func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// ============================================================================
//                              teeHandler
// ============================================================================

// teeHandler 同时写入两个 Handler
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.primary.Enabled(ctx, r.Level) {
		err = h.primary.Handle(ctx, r.Clone())
	}
	if h.secondary.Enabled(ctx, r.Level) {
		if err2 := h.secondary.Handle(ctx, r); err == nil {
			err = err2
		}
	}
	return err
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

// ============================================================================
//                              discardHandler
// ============================================================================

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// DiscardHandler 返回一个丢弃所有日志的 Handler
func DiscardHandler() slog.Handler {
	return discardHandler{}
}
