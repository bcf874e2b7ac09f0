package setup

import "errors"

// 预定义错误
var (
	// ErrNoResults 并行查询没有任何可用结果
	ErrNoResults = errors.New("setup: parallel query returned no results")

	// ErrStaleRound 本轮已被新一轮取代
	ErrStaleRound = errors.New("setup: setup round superseded")

	// ErrNoID 无法为某层选择 ID
	ErrNoID = errors.New("setup: no id available for layer")

	// ErrSampleFailed 持续采样达到重试上限
	ErrSampleFailed = errors.New("setup: persistent sample failed")
)
