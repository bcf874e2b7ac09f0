// Package lookup 实现查找协议
//
// 服务端（Router）：
//   - GetID / SuccessorsSample: setup 期间被其他节点调用，等待对应阶段后返回
//   - Query: 在某层 successor 表中直接查键
//   - Try: 一次查找尝试。取第 0 层 finger ID 与目标键排序成环，
//     对键的每个前驱用 chooseFinger 挑一个区间内的 finger 并发 query，
//     接受第一个通过自证明校验的记录
//
// 客户端（Client）：随机游走采样若干节点及其查询令牌，
// 并行调用 lookupTry，接受第一个自证明的结果。
package lookup
