package whanau

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/core/metrics"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/core/security/tls"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/node"
	"github.com/dep2p/go-whanau/internal/whanau/scheduler"
)

var fxLogger = logger.Logger("whanau/fx")

var _ node.Observer = (*metrics.Collector)(nil)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 配置 → 身份 → 传输（TLS 或注入的工厂）
//  2. 指标收集器（始终加载，HTTP 端点按配置启动）
//  3. Whanau 节点
//  4. 周期性 setup 调度器（按配置启动）
func buildFxApp(o *options, cfg *config.Config, n *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(cfg),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 身份与传输
	// ════════════════════════════════════════════════════════════════════════
	if o.identity != nil {
		modules = append(modules, fx.Supply(o.identity))
	} else {
		modules = append(modules, identity.Module())
	}

	if o.transport != nil {
		f := o.transport
		modules = append(modules, fx.Provide(func(id *identity.Identity) (rpc.Transport, error) {
			return f(id)
		}))
	} else {
		modules = append(modules, tls.Module())
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 指标（收集器即节点观察者）
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		metrics.Module(),
		fx.Provide(func(c *metrics.Collector) node.Observer { return c }),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 节点与调度
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		node.Module(),
		scheduler.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Populate(&n.node, &n.collector))

	// ════════════════════════════════════════════════════════════════════════
	// 7. Fx 日志
	// ════════════════════════════════════════════════════════════════════════
	if o.verboseFx {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("create fx logger: %w", err)
		}
		modules = append(modules, fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zl}
		}))
	} else {
		modules = append(modules, fx.NopLogger)
	}

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		fxLogger.Error("构建 Fx 应用失败", "error", err)
		return nil, err
	}
	return app, nil
}
