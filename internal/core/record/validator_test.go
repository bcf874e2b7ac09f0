package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/internal/core/identity"
)

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

// ============================================================================
// SigningValidator 测试
// ============================================================================

// TestSigningValidator_CreateCheck 测试创建与自证明
func TestSigningValidator_CreateCheck(t *testing.T) {
	id := newIdentity(t)
	v := NewSigningValidator(id, 0)

	r, err := v.Create("hello", "127.0.0.1", 4000)
	require.NoError(t, err)

	assert.True(t, Check(v, r))
	key, err := v.ExtractKey(r)
	require.NoError(t, err)
	assert.Equal(t, id.ID().Key(), key)
	assert.True(t, v.CheckKey(id.ID().Key(), r))
	assert.False(t, v.CheckKey(newIdentity(t).ID().Key(), r), "其他身份的键不能通过")

	target, err := v.OwnerTarget(r)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), target.ID)
	assert.Equal(t, "127.0.0.1:4000", target.Addr())

	value, err := v.ExtractValue(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	assert.Equal(t, int64(1), v.Stats().Creates)

	t.Log("✅ 签名记录校验通过")
}

// TestSigningValidator_Tamper 测试篡改检测
func TestSigningValidator_Tamper(t *testing.T) {
	v := NewSigningValidator(newIdentity(t), 0)
	r, err := v.Create("hello", "127.0.0.1", 4000)
	require.NoError(t, err)

	forged := *r
	forged.Value = "evil"
	assert.False(t, v.IsValid(&forged))

	forged = *r
	forged.PublicKey = newIdentity(t).PublicKey()
	assert.False(t, v.IsValid(&forged), "替换公钥后签名失效")

	assert.False(t, v.IsValid(nil))
	assert.False(t, v.IsValid(&Record{Host: "h", Port: 1}))
}

// TestSigningValidator_Expiry 测试过期
func TestSigningValidator_Expiry(t *testing.T) {
	v := NewSigningValidator(newIdentity(t), time.Minute)
	r, err := v.Create("v", "127.0.0.1", 4000)
	require.NoError(t, err)
	assert.False(t, v.IsExpired(r))

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.True(t, v.IsExpired(r))
	assert.False(t, Check(v, r))
	assert.False(t, v.CheckKey(r.Owner().Key(), r), "过期记录不能通过自证明")
}

// ============================================================================
// HashingValidator 测试
// ============================================================================

// TestHashingValidator 测试值哈希键
func TestHashingValidator(t *testing.T) {
	v := NewHashingValidator(newIdentity(t))
	r, err := v.Create("hello", "127.0.0.1", 4000)
	require.NoError(t, err)

	assert.True(t, Check(v, r))
	assert.True(t, v.CheckKey(HashKey("hello"), r))
	assert.False(t, v.CheckKey(HashKey("other"), r))
	assert.False(t, v.IsExpired(r))
}

// TestNew 测试按类型创建
func TestNew(t *testing.T) {
	id := newIdentity(t)

	v, err := New("signing", id, 0)
	require.NoError(t, err)
	assert.IsType(t, &SigningValidator{}, v)

	v, err = New("hashing", id, 0)
	require.NoError(t, err)
	assert.IsType(t, &HashingValidator{}, v)

	_, err = New("md5", id, 0)
	assert.ErrorIs(t, err, ErrUnknownValidator)
}
