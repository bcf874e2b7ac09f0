// Package metrics 提供节点指标收集
//
// Collector 实现节点各组件的观察者接口（RPC 调用、随机游走填充、
// setup、lookup、访问控制拒绝），写入独立的 Prometheus 注册表：
//
//	whanau_rpc_calls_total{command,result}
//	whanau_rpc_call_duration_seconds{command}
//	whanau_randwalk_fills_total{level}
//	whanau_randwalk_fill_nodes_total{kind}
//	whanau_setup_duration_seconds{part,result}
//	whanau_lookup_total{result,source}
//	whanau_lookup_duration_seconds
//	whanau_acl_rejections_total{command}
//
// 另外按命令维护 60 秒滑动窗口的调用速率（RateMeter），
// 时间来源可注入 clock.Clock，测试使用 clock.NewMock。
//
// # Fx 模块
//
//	app := fx.New(
//	    metrics.Module(),
//	    fx.Invoke(func(c *metrics.Collector) { ... }),
//	)
//
// 配置中 metrics.enabled 为 true 时，模块在 metrics.addr 上启动 /metrics 端点。
package metrics
