package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/pkg/types"
)

// TestGenerate 测试生成身份
func TestGenerate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	assert.Equal(t, types.NodeIDFromPublicKey(id.PublicKey()), id.ID())
	assert.False(t, id.ID().IsEmpty())

	t.Log("✅ 身份生成成功")
}

// TestSignVerify 测试签名与校验
func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	sig := id.Sign([]byte("hello"))
	assert.True(t, Verify(id.PublicKey(), []byte("hello"), sig))
	assert.False(t, Verify(id.PublicKey(), []byte("hellO"), sig))
	assert.False(t, Verify([]byte("short"), []byte("hello"), sig))
}

// TestSaveLoad 测试 PEM 持久化
func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	id, err := Generate()
	require.NoError(t, err)
	require.NoError(t, id.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), loaded.ID())
}

// TestLoadOrGenerate 测试不存在时生成
func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrGenerate(path)
	require.NoError(t, err)
	second, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID(), "第二次应加载同一身份")

	_, err = Load(filepath.Join(t.TempDir(), "none.key"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	bad := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0600))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}
