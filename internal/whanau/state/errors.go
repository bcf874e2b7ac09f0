package state

import "errors"

// 预定义错误
var (
	// ErrLayerOutOfRange 层号越界
	ErrLayerOutOfRange = errors.New("state: layer out of range")

	// ErrNoRecords 本节点没有发布任何值
	ErrNoRecords = errors.New("state: no published records")

	// ErrLocalUnknown 本地地址尚未设置
	ErrLocalUnknown = errors.New("state: local address not set")
)
