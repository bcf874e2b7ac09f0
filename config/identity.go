package config

import "errors"

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile Ed25519 私钥文件路径（PEM）
	// 为空时在内存中生成临时密钥
	KeyFile string `json:"key_file"`

	// AutoGenerate 当密钥文件不存在时是否自动生成
	AutoGenerate bool `json:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyFile:      "",
		AutoGenerate: true,
	}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.KeyFile == "" && !c.AutoGenerate {
		return errors.New("identity: key_file required when auto_generate is disabled")
	}
	return nil
}
