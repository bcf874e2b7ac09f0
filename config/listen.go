package config

import "errors"

// ListenConfig 监听配置
type ListenConfig struct {
	// Host 监听地址
	Host string `json:"host"`

	// Port 监听端口（0 = 随机端口）
	Port int `json:"port"`

	// PublicHost 写入记录中的对外地址（为空时使用 Host）
	PublicHost string `json:"public_host,omitempty"`
}

// DefaultListenConfig 返回默认监听配置
func DefaultListenConfig() ListenConfig {
	return ListenConfig{
		Host: "127.0.0.1",
		Port: 0,
	}
}

// AdvertisedHost 返回写入记录的主机名
func (c ListenConfig) AdvertisedHost() string {
	if c.PublicHost != "" {
		return c.PublicHost
	}
	return c.Host
}

// Validate 验证监听配置
func (c ListenConfig) Validate() error {
	if c.Host == "" {
		return errors.New("listen: host must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("listen: port out of range")
	}
	return nil
}
