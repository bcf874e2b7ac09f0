package randwalk

import "errors"

// 预定义错误
var (
	// ErrStepsOutOfRange 步数越界
	ErrStepsOutOfRange = errors.New("randwalk: steps out of range")

	// ErrInvalidCount 请求数量为负
	ErrInvalidCount = errors.New("randwalk: invalid count")

	// ErrNoActivePeers 没有活跃邻居可供游走
	ErrNoActivePeers = errors.New("randwalk: no active peers")

	// ErrExhausted 填充后仍不足
	ErrExhausted = errors.New("randwalk: not enough random walks")
)
