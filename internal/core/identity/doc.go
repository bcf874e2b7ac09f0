// Package identity 实现节点的长期身份
//
// 节点身份是一个 Ed25519 密钥对，身份哈希（NodeID）= SHA256(原始公钥)。
// 同一身份既用于 TLS 握手（证书公钥即身份公钥），也用于签名 DHT 记录。
//
// # 快速开始
//
//	id, _ := identity.Generate()
//	sig := id.Sign([]byte("data"))
//	ok := identity.Verify(id.PublicKey(), []byte("data"), sig)
//
//	// 从文件加载，不存在时生成并保存
//	id, _ := identity.LoadOrGenerate("node.key")
package identity
