// Package record 定义 DHT 记录与记录校验器
//
// 记录对路由核心是不透明的，核心只通过 Validator 访问它：
// 提取键、提取值、结构校验、过期判断、获取所有者的 RPC 目标、创建记录、
// 以及自证明检查（记录能否推导出给定的键）。
//
// 两种实现：
//   - SigningValidator: 键 = 所有者身份哈希，记录由所有者 Ed25519 签名，带 TTL
//   - HashingValidator: 键 = 值的 SHA256，永不过期
package record
