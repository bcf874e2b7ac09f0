package record

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("record")

// 校验错误
var (
	// ErrInvalidRecord 记录结构无效
	ErrInvalidRecord = errors.New("record: invalid record")

	// ErrUnknownValidator 未知校验器类型
	ErrUnknownValidator = errors.New("record: unknown validator")
)

// Validator 记录校验器
type Validator interface {
	// ExtractKey 从记录推导自证明的键
	ExtractKey(r *Record) (types.Key, error)

	// ExtractValue 提取值
	ExtractValue(r *Record) (string, error)

	// IsValid 结构校验（包括签名）
	IsValid(r *Record) bool

	// IsExpired 是否过期
	IsExpired(r *Record) bool

	// OwnerTarget 返回所有者的 RPC 目标
	OwnerTarget(r *Record) (types.Target, error)

	// Create 为本节点创建一条记录
	Create(value, host string, port int) (*Record, error)

	// CheckKey 记录有效且能推导出 key
	CheckKey(key types.Key, r *Record) bool

	// Stats 返回调试计数
	Stats() Stats
}

// Stats 校验器调试计数
type Stats struct {
	Creates int64 `json:"creates"`
	Checks  int64 `json:"checks"`
}

// Check 记录非空、结构有效且未过期
func Check(v Validator, r *Record) bool {
	return r != nil && v.IsValid(r) && !v.IsExpired(r)
}

// New 按类型创建校验器
func New(kind string, id *identity.Identity, ttl time.Duration) (Validator, error) {
	switch kind {
	case "signing":
		return NewSigningValidator(id, ttl), nil
	case "hashing":
		return NewHashingValidator(id), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownValidator, kind)
	}
}

// ============================================================================
//                              通用部分
// ============================================================================

// base 两种校验器共享的实现
type base struct {
	id      *identity.Identity
	creates atomic.Int64
	checks  atomic.Int64
}

func (b *base) Stats() Stats {
	return Stats{Creates: b.creates.Load(), Checks: b.checks.Load()}
}

func (b *base) ExtractValue(r *Record) (string, error) {
	if r == nil {
		return "", ErrInvalidRecord
	}
	return r.Value, nil
}

func (b *base) OwnerTarget(r *Record) (types.Target, error) {
	if !structurallySound(r) {
		return types.Target{}, ErrInvalidRecord
	}
	return types.Target{ID: r.Owner(), Host: r.Host, Port: r.Port}, nil
}

// newRecord 创建未签名记录
func (b *base) newRecord(value, host string, port int, ttl time.Duration) *Record {
	b.creates.Add(1)
	return &Record{
		Value:     value,
		Host:      host,
		Port:      port,
		PublicKey: append([]byte(nil), b.id.PublicKey()...),
		CreatedAt: time.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
}

// structurallySound 字段是否齐全
func structurallySound(r *Record) bool {
	return r != nil &&
		len(r.PublicKey) == ed25519.PublicKeySize &&
		r.Host != "" &&
		r.Port > 0 && r.Port <= 65535
}

// ============================================================================
//                              SigningValidator
// ============================================================================

// SigningValidator 键 = 所有者身份哈希，记录带签名与 TTL
type SigningValidator struct {
	base
	ttl time.Duration
	now func() time.Time
}

// NewSigningValidator 创建签名校验器（ttl <= 0 表示永不过期）
func NewSigningValidator(id *identity.Identity, ttl time.Duration) *SigningValidator {
	if ttl < 0 {
		ttl = 0
	}
	return &SigningValidator{base: base{id: id}, ttl: ttl, now: time.Now}
}

// Create 创建并签名记录
func (v *SigningValidator) Create(value, host string, port int) (*Record, error) {
	r := v.newRecord(value, host, port, v.ttl)
	r.Signature = v.id.Sign(r.signingBytes())
	return r, nil
}

// ExtractKey 键 = 所有者身份哈希
func (v *SigningValidator) ExtractKey(r *Record) (types.Key, error) {
	if !structurallySound(r) {
		return "", ErrInvalidRecord
	}
	return r.Owner().Key(), nil
}

// IsValid 字段齐全且签名正确
func (v *SigningValidator) IsValid(r *Record) bool {
	v.checks.Add(1)
	if !structurallySound(r) {
		return false
	}
	return identity.Verify(r.PublicKey, r.signingBytes(), r.Signature)
}

// IsExpired 超过 CreatedAt + TTL
func (v *SigningValidator) IsExpired(r *Record) bool {
	if r == nil {
		return true
	}
	if r.TTL <= 0 {
		return false
	}
	return v.now().UnixMilli() > r.CreatedAt+r.TTL
}

// CheckKey 记录有效且属于 key
func (v *SigningValidator) CheckKey(key types.Key, r *Record) bool {
	if !Check(v, r) {
		return false
	}
	k, err := v.ExtractKey(r)
	if err != nil {
		log.Warn("提取键失败", "err", err)
		return false
	}
	return k == key
}

// ============================================================================
//                              HashingValidator
// ============================================================================

// HashingValidator 键 = 值的哈希，记录永不过期
type HashingValidator struct {
	base
}

// NewHashingValidator 创建哈希校验器
func NewHashingValidator(id *identity.Identity) *HashingValidator {
	return &HashingValidator{base: base{id: id}}
}

// Create 创建记录（不签名）
func (v *HashingValidator) Create(value, host string, port int) (*Record, error) {
	return v.newRecord(value, host, port, 0), nil
}

// ExtractKey 键 = SHA256(value) 的 Base58 表示
func (v *HashingValidator) ExtractKey(r *Record) (types.Key, error) {
	if r == nil {
		return "", ErrInvalidRecord
	}
	return HashKey(r.Value), nil
}

// IsValid 字段齐全
func (v *HashingValidator) IsValid(r *Record) bool {
	v.checks.Add(1)
	return structurallySound(r)
}

// IsExpired 永不过期
func (v *HashingValidator) IsExpired(*Record) bool {
	return false
}

// CheckKey 记录有效且值的哈希等于 key
func (v *HashingValidator) CheckKey(key types.Key, r *Record) bool {
	if !Check(v, r) {
		return false
	}
	return HashKey(r.Value) == key
}

// HashKey 计算值对应的键
func HashKey(value string) types.Key {
	return types.NodeIDFromPublicKey([]byte(value)).Key()
}
