// Package setup 实现两阶段的路由表构建
//
// 阶段一（stage 0→2）：开启新一轮、重置令牌/游走缓存/邻居计数，
// 等待邻居进入 stage 1，随机游走采样 rd 条记录作为本轮数据库。
//
// 阶段二（stage 3→2+2L）：逐层选择 ID，向 rf 个随机游走目标
// 并行请求该层 ID 作为 finger，再向 rs 个目标并行请求 ID 的后继记录。
//
// 任何一步失败都会中止本轮，由上层（调度器或控制端）决定何时重试。
package setup
