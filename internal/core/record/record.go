package record

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dep2p/go-whanau/pkg/types"
)

// Record 一条 DHT 记录
type Record struct {
	// Value 发布的值
	Value string `json:"value"`

	// Host 所有者主机
	Host string `json:"host"`

	// Port 所有者端口
	Port int `json:"port"`

	// PublicKey 所有者原始公钥
	PublicKey []byte `json:"pub_key"`

	// CreatedAt 创建时间（Unix 毫秒）
	CreatedAt int64 `json:"created_at"`

	// TTL 有效期（毫秒，0 = 永不过期）
	TTL int64 `json:"ttl"`

	// Signature 所有者对以上字段的签名
	Signature []byte `json:"sig,omitempty"`
}

// Owner 返回所有者身份哈希
func (r *Record) Owner() types.NodeID {
	return types.NodeIDFromPublicKey(r.PublicKey)
}

// Created 返回创建时间
func (r *Record) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// String 返回日志用表示
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[value=%s,host=%s,port=%d,owner=%s,created=%d,ttl=%d]",
		r.Value, r.Host, r.Port, r.Owner().ShortString(), r.CreatedAt, r.TTL)
}

// signingBytes 签名覆盖的规范字节序列（各字段长度前缀）
func (r *Record) signingBytes() []byte {
	buf := make([]byte, 0, 64+len(r.Value)+len(r.Host)+len(r.PublicKey))
	buf = appendField(buf, []byte(r.Value))
	buf = appendField(buf, []byte(r.Host))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Port))
	buf = appendField(buf, r.PublicKey)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.CreatedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.TTL))
	return buf
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// Sample 随机游走的一个结果：候选记录与其一次性查询令牌
type Sample struct {
	Record *Record           `json:"record"`
	Token  types.QueryToken `json:"token"`
}
