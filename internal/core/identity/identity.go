package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/dep2p/go-whanau/pkg/types"
)

// 错误定义
var (
	// ErrInvalidKeySize 密钥长度无效
	ErrInvalidKeySize = errors.New("identity: invalid key size")
)

// Identity 节点身份
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   types.NodeID
}

// Generate 生成新的随机身份
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey 从私钥创建身份
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		priv: priv,
		pub:  pub,
		id:   types.NodeIDFromPublicKey(pub),
	}, nil
}

// ID 返回身份哈希
func (i *Identity) ID() types.NodeID {
	return i.id
}

// PublicKey 返回原始公钥字节
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.pub
}

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// Sign 签名数据
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.priv, data)
}

// Verify 使用原始公钥校验签名
func Verify(pub []byte, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
