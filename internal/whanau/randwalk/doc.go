// Package randwalk 实现随机游走采样缓存
//
// Sampler 按游走步数分层缓存 (记录, 查询令牌) 对。请求能由缓存满足时
// 直接随机取出；否则从第 1 层到第 steps 层逐层向活跃邻居批量发起
// sampleNodes(·, level-1)，把校验通过的结果并入该层缓存后重试一次。
//
// 采样是"全有或全无"的：要么恰好返回 numNodes 个条目，要么返回错误。
//
// 同一时刻，某层及更低层只允许一个填充在进行，其余调用方等待。
package randwalk
