package identity

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-whanau/config"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	// 配置（可选，使用默认配置）
	Config *config.Config `optional:"true"`
}

// ============================================================================
//                              服务提供
// ============================================================================

// ProvideIdentity 按配置加载或生成身份
//
// 优先级：KeyFile 存在则加载；不存在且 AutoGenerate 则生成并保存；
// 未配置 KeyFile 时生成临时身份。
func ProvideIdentity(input ModuleInput) (*Identity, error) {
	cfg := config.DefaultIdentityConfig()
	if input.Config != nil {
		cfg = input.Config.Identity
	}

	if cfg.KeyFile == "" {
		return Generate()
	}
	if cfg.AutoGenerate {
		id, err := LoadOrGenerate(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("加载或生成身份失败: %w", err)
		}
		return id, nil
	}
	id, err := Load(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("加载身份失败: %w", err)
	}
	return id, nil
}

// Module 返回身份 Fx 模块
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
