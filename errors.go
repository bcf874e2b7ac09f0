package whanau

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// setup 相关错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrSetupBusy 上一次 setup 尚未结束
	ErrSetupBusy = errors.New("setup already running")

	// ErrSetupTimeout 等待 setup 超时
	ErrSetupTimeout = errors.New("setup timed out")
)
