// Package tls 提供基于 TLS 1.3 的安全传输
//
// 每个节点用身份私钥签发自签名证书，证书公钥就是身份公钥，
// 因此对端身份 = SHA256(证书公钥)，不依赖任何 CA。
//
//   - DialPeer：出站连接，握手时校验对端身份等于期望值（防中间人）
//   - Listen + SecureInbound：入站连接，握手后提取调用方身份
package tls
