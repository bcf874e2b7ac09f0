package lookup

import "errors"

// 预定义错误
var (
	// ErrNotFound 查找失败
	ErrNotFound = errors.New("lookup: not found")

	// ErrNoFingers 没有可用的 finger
	ErrNoFingers = errors.New("lookup: no fingers in range")

	// ErrNotReady 请求的层尚未就绪
	ErrNotReady = errors.New("lookup: layer not ready")
)
