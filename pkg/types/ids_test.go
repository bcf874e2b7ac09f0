package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// NodeID 测试
// ============================================================================

// TestNodeID_RoundTrip 测试 Base58 编解码
func TestNodeID_RoundTrip(t *testing.T) {
	id := NodeIDFromPublicKey([]byte("some public key"))
	require.False(t, id.IsEmpty())

	parsed, err := ParseNodeID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, id.ShortString(), 8)

	t.Log("✅ NodeID 编解码正确")
}

// TestNodeID_Invalid 测试无效输入
func TestNodeID_Invalid(t *testing.T) {
	_, err := ParseNodeID("0OIl")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = NodeIDFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

// TestTarget_JSON 测试 Target 在 JSON 中以 Base58 表示 ID
func TestTarget_JSON(t *testing.T) {
	target := Target{ID: NodeIDFromPublicKey([]byte("k")), Host: "127.0.0.1", Port: 4000}

	data, err := json.Marshal(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), target.ID.String())

	var decoded Target
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, target, decoded)
	assert.Equal(t, "127.0.0.1:4000", decoded.Addr())
}

// ============================================================================
// Key 测试
// ============================================================================

// TestInRange 测试环形区间
func TestInRange(t *testing.T) {
	// 不跨越末端
	assert.True(t, InRange("b", "d", "c"))
	assert.True(t, InRange("b", "d", "b"))
	assert.True(t, InRange("b", "d", "d"))
	assert.False(t, InRange("b", "d", "e"))

	// 跨越末端
	assert.True(t, InRange("x", "b", "z"))
	assert.True(t, InRange("x", "b", "a"))
	assert.False(t, InRange("x", "b", "m"))
}

// TestSortKeys 测试去重排序与查找
func TestSortKeys(t *testing.T) {
	keys := SortKeys([]Key{"c", "a", "b", "a"})
	assert.Equal(t, []Key{"a", "b", "c"}, keys)
	assert.Equal(t, 1, SearchKey(keys, "b"))
	assert.Equal(t, 3, SearchKey(keys, "d"))
}

// TestNewQueryToken 测试令牌唯一
func TestNewQueryToken(t *testing.T) {
	seen := make(map[QueryToken]bool)
	for i := 0; i < 100; i++ {
		tok := NewQueryToken()
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

// TestParseTarget 测试目标的文本表示
func TestParseTarget(t *testing.T) {
	target := Target{ID: NodeIDFromPublicKey([]byte("pk")), Host: "10.0.0.1", Port: 4001}

	parsed, err := ParseTarget(target.Encode())
	require.NoError(t, err)
	assert.Equal(t, target, parsed)

	for _, bad := range []string{
		"10.0.0.1:4001",
		"xyz@10.0.0.1:4001",
		target.ID.String() + "@10.0.0.1",
		target.ID.String() + "@10.0.0.1:0",
		target.ID.String() + "@10.0.0.1:http",
	} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}
