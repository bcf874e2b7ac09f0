package config

import (
	"fmt"

	"github.com/dep2p/go-whanau/pkg/types"
)

// ControlConfig 控制命令访问配置
//
// 控制命令（setup、邻居管理、发布、lookup）只接受 AllowList 中的身份。
// AllowList 为空时的行为由 OpenWhenEmpty 显式决定：
//   - false: 拒绝所有人（默认）
//   - true: 对所有人开放
type ControlConfig struct {
	// AllowList 允许的控制身份（Base58 NodeID）
	AllowList []string `json:"allow_list"`

	// OpenWhenEmpty AllowList 为空时是否对所有人开放
	OpenWhenEmpty bool `json:"open_when_empty"`
}

// DefaultControlConfig 返回默认控制配置
func DefaultControlConfig() ControlConfig {
	return ControlConfig{}
}

// IDs 解析 AllowList
func (c ControlConfig) IDs() ([]types.NodeID, error) {
	ids := make([]types.NodeID, 0, len(c.AllowList))
	for _, s := range c.AllowList {
		id, err := types.ParseNodeID(s)
		if err != nil {
			return nil, fmt.Errorf("control: allow_list entry %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate 验证控制配置
func (c ControlConfig) Validate() error {
	_, err := c.IDs()
	return err
}
