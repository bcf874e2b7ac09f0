package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize 单帧上限（随机游走批量结果可能较大）
const MaxFrameSize = 16 * 1024 * 1024

// Request 请求消息
type Request struct {
	// ID 请求 ID（日志关联）
	ID string `json:"id"`

	// Command 命令名
	Command Command `json:"cmd"`

	// Args 参数（命令对应的参数结构）
	Args json.RawMessage `json:"args,omitempty"`
}

// Response 响应消息
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// writeFrame 写入一帧
func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame 读取一帧并解码到 v
func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("read length failed: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read data failed: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
