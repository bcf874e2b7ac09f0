package config

import (
	"fmt"
	"time"
)

// TimeoutsConfig 超时配置
type TimeoutsConfig struct {
	// Handshake 安全握手超时
	Handshake Duration `json:"handshake"`

	// GetRemote 获取远端引用（建连）超时
	GetRemote Duration `json:"get_remote"`

	// SmallCall 普通 RPC 超时
	SmallCall Duration `json:"small_call"`

	// JoinSetup 等待后台 setup 完成的超时
	JoinSetup Duration `json:"join_setup"`

	// PerStep 随机游走每跳超时
	PerStep Duration `json:"per_step"`

	// PerStepProc 随机游走每跳处理时间
	PerStepProc Duration `json:"per_step_proc"`

	// GetID getID 并行查询超时
	GetID Duration `json:"get_id"`

	// SuccessorsSample successorsSample 并行查询超时
	SuccessorsSample Duration `json:"successors_sample"`

	// Query 单次 query 超时
	Query Duration `json:"query"`

	// Lookup lookup 并行查询超时
	Lookup Duration `json:"lookup"`

	// WaitSetup 等待邻居进入指定阶段的超时
	WaitSetup Duration `json:"wait_setup"`
}

// DefaultTimeoutsConfig 返回默认超时
func DefaultTimeoutsConfig() TimeoutsConfig {
	return TimeoutsConfig{
		Handshake:        Duration(10 * time.Second),
		GetRemote:        Duration(20 * time.Second),
		SmallCall:        Duration(30 * time.Second),
		JoinSetup:        Duration(285 * time.Second),
		PerStep:          Duration(17 * time.Second),
		PerStepProc:      Duration(3 * time.Second),
		GetID:            Duration(50 * time.Second),
		SuccessorsSample: Duration(60 * time.Second),
		Query:            Duration(4 * time.Second),
		Lookup:           Duration(5 * time.Second),
		WaitSetup:        Duration(30 * time.Second),
	}
}

// FillTimeout 填充第 steps 层随机游走缓存的超时
//
// (PerStep + PerStepProc) * steps - PerStepProc
func (c TimeoutsConfig) FillTimeout(steps int) time.Duration {
	per := c.PerStep.Duration() + c.PerStepProc.Duration()
	return per*time.Duration(steps) - c.PerStepProc.Duration()
}

// Validate 验证超时配置
func (c TimeoutsConfig) Validate() error {
	all := map[string]Duration{
		"handshake":         c.Handshake,
		"get_remote":        c.GetRemote,
		"small_call":        c.SmallCall,
		"join_setup":        c.JoinSetup,
		"per_step":          c.PerStep,
		"get_id":            c.GetID,
		"successors_sample": c.SuccessorsSample,
		"query":             c.Query,
		"lookup":            c.Lookup,
		"wait_setup":        c.WaitSetup,
	}
	for name, d := range all {
		if d <= 0 {
			return fmt.Errorf("timeouts: %s must be positive", name)
		}
	}
	if c.PerStepProc < 0 {
		return fmt.Errorf("timeouts: per_step_proc must not be negative")
	}
	return nil
}
