// Package types 定义 go-whanau 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go    - NodeID（公钥哈希）、Target（可达目标）
//   - key.go    - Key（DHT 键）及环形区间判断
//   - token.go  - QueryToken（一次性查询令牌）
package types
