package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig_Defaults 测试默认配置与协议常量一致
func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7, cfg.Protocol.W)
	assert.Equal(t, 50, cfg.Protocol.RD)
	assert.Equal(t, 5, cfg.Protocol.NumLayers)
	assert.Equal(t, 30, cfg.Protocol.MaxSampleFailures)
	assert.Equal(t, 2, cfg.Protocol.SuccessorsSampleSize)
	assert.Equal(t, 50+5*(50+50), cfg.Protocol.CacheDepth())
	assert.Equal(t, 17*time.Second, cfg.Timeouts.PerStep.Duration())
	assert.False(t, cfg.Control.OpenWhenEmpty, "空控制列表默认拒绝所有人")
}

// TestFillTimeout 测试随机游走填充超时
func TestFillTimeout(t *testing.T) {
	c := DefaultTimeoutsConfig()
	assert.Equal(t, 17*time.Second, c.FillTimeout(1))
	assert.Equal(t, 37*time.Second, c.FillTimeout(2))
}

// TestFromJSON 测试 JSON 覆盖默认值
func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"protocol": {"w": 3, "rd": 10},
		"timeouts": {"query": "1s"},
		"control": {"open_when_empty": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Protocol.W)
	assert.Equal(t, 10, cfg.Protocol.RD)
	assert.Equal(t, DefaultRF, cfg.Protocol.RF, "未指定字段保留默认值")
	assert.Equal(t, time.Second, cfg.Timeouts.Query.Duration())
	assert.True(t, cfg.Control.OpenWhenEmpty)
}

// TestFromJSON_Invalid 测试无效配置
func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte(`{"protocol": {"w": 0}}`))
	assert.Error(t, err)

	_, err = FromJSON([]byte(`{"protocol": {"validator": "md5"}}`))
	assert.Error(t, err)

	_, err = FromJSON([]byte(`{"control": {"allow_list": ["not-base58-0OIl"]}}`))
	assert.Error(t, err)
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")

	data, err := NewConfig().ToJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
