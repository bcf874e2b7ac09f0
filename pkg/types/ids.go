package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              NodeID - 节点身份哈希
// ============================================================================

// NodeID 节点身份哈希
//
// 由长期公钥派生：SHA256(原始公钥字节)。
// 外部表示为 Base58 编码。
type NodeID [32]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 32 bytes Base58")

// NodeIDFromPublicKey 从原始公钥字节派生 NodeID
func NodeIDFromPublicKey(pub []byte) NodeID {
	return NodeID(sha256.Sum256(pub))
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != len(EmptyNodeID) {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 解析 Base58 字符串
func ParseNodeID(s string) (NodeID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	return NodeIDFromBytes(b)
}

// String 返回 Base58 表示
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回日志用的短标识
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Key 将 NodeID 作为 DHT 键
func (id NodeID) Key() Key {
	return Key(id.String())
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// MarshalText 实现 encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = EmptyNodeID
		return nil
	}
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ============================================================================
//                              Target - 可达目标
// ============================================================================

// Target 一个可以发起 RPC 的远端节点
//
// ID 用于在握手时校验对端身份（防中间人）。
type Target struct {
	ID   NodeID `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr 返回 host:port
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String 返回日志用表示
func (t Target) String() string {
	return t.ID.ShortString() + "@" + t.Addr()
}

// Encode 返回可解析的完整表示：<NodeID>@host:port
func (t Target) Encode() string {
	return t.ID.String() + "@" + t.Addr()
}

// ParseTarget 解析 Encode 的输出
func ParseTarget(s string) (Target, error) {
	idStr, addr, ok := strings.Cut(s, "@")
	if !ok {
		return Target{}, fmt.Errorf("invalid target %q: missing '@'", s)
	}
	id, err := ParseNodeID(idStr)
	if err != nil {
		return Target{}, err
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Target{}, fmt.Errorf("invalid target %q: bad port", s)
	}
	return Target{ID: id, Host: host, Port: port}, nil
}
