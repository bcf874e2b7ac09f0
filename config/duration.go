package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 是支持 JSON 字符串解析的 time.Duration 包装类型
//
// 支持的格式:
//   - 字符串: "30s", "5m", "1h30m", "100ms" 等
//   - 数字: 纳秒数
//
// 使用示例:
//
//	type TimeoutsConfig struct {
//	    Query Duration `json:"query"`
//	}
//
//	// JSON: {"query": "4s"} 或 {"query": 4000000000}
type Duration time.Duration

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		duration, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration string %q: %w", s, err)
		}
		*d = Duration(duration)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n)
		return nil
	}

	return fmt.Errorf("duration must be a string (e.g., \"30s\") or number (nanoseconds)")
}

// MarshalJSON 输出为人类可读的字符串格式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration 返回底层的 time.Duration 值
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Millis 返回毫秒数（RPC 参数使用毫秒）
func (d Duration) Millis() int64 {
	return time.Duration(d).Milliseconds()
}

// String 返回字符串表示
func (d Duration) String() string {
	return time.Duration(d).String()
}
