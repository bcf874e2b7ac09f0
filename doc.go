// Package whanau 提供 Sybil 抗性的分布式哈希表节点
//
// Whanau 假设诚实节点之间的社交图是快速混合的，而攻击者只能通过少量
// 攻击边接入。节点通过社交图上的随机游走采样记录，构建数据库、每层的
// ID、finger 表与 successor 表，然后在两跳之内完成查找。
//
// # 核心概念
//
//   - Node: 一个 DHT 参与者，用户交互的主入口
//   - Record: 自证明的键值记录，键由 RecordValidator 从记录中提取
//   - Setup: 两阶段的路由表构建（part1 采样数据库，part2 构建各层）
//   - Control: 只接受允许列表中的身份发起的控制命令
//
// # 快速开始
//
//	import "github.com/dep2p/go-whanau"
//
//	// 1. 创建并启动节点
//	node, err := whanau.Start(ctx,
//	    whanau.WithPreset(whanau.PresetSmall),
//	    whanau.WithListenPort(4001),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 2. 发布记录并连接社交图邻居
//	node.Publish("hello")
//	node.AddPeer(peerTarget)
//
//	// 3. 运行一轮 setup 后查找
//	node.RunSetup(ctx)
//	rec, err := node.Lookup(ctx, key)
//
// # API 层次结构
//
//	Node
//	 ├── Publish / AddPeer / RemoveAllPeers
//	 ├── RunSetup / SetupStage
//	 ├── Lookup
//	 └── Info / Logs / Metrics
//
// 周期性 setup 由调度器驱动（WithScheduler），指标通过 WithMetrics 暴露。
package whanau
