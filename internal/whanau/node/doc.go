// Package node 实现 Whanau 虚拟节点
//
// Node 把路由状态、随机游走采样器、setup 协调器与查找协议组装在一起，
// 并通过 rpc.Server 对外提供命令。每个入站调用先按命令类别做访问控制：
//
//   - public: 任何人（getPubKeyHash、waitStage、query）
//   - token: 需出示有效的一次性查询令牌，令牌在处理前原子消耗
//     （getID、successorsSample、lookupTry）
//   - peer: 调用方必须是社交图邻居，且受每轮游走预算与速率限制（sampleNodes）
//   - control: 调用方必须在控制列表中（setup、邻居管理、发布、lookup 等）
//
// 控制列表为空时是否对所有人开放由配置显式决定。
package node
