package rpc

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-whanau/pkg/types"
)

// 预定义错误
var (
	// ErrTransport 传输失败（建连、握手、读写）
	ErrTransport = errors.New("rpc: transport failure")

	// ErrUnknownCommand 未知命令
	ErrUnknownCommand = errors.New("rpc: unknown command")

	// ErrFrameTooLarge 帧超过上限
	ErrFrameTooLarge = errors.New("rpc: frame too large")

	// ErrServerClosed 服务已关闭
	ErrServerClosed = errors.New("rpc: server closed")

	// ErrNilResult 远端返回空结果
	ErrNilResult = errors.New("rpc: nil result")
)

// 远端错误码
const (
	CodeUnauthorized = "unauthorized"
	CodeBadRequest   = "bad_request"
	CodeFailed       = "failed"
)

// RemoteError 远端处理失败（调用本身送达，对端仍然存活）
type RemoteError struct {
	Code    string
	Message string
}

// Error 实现 error 接口
func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc remote %s: %s", e.Code, e.Message)
}

// CodedError 携带错误码的处理错误，服务端据此填写响应的 Code
type CodedError interface {
	error
	RPCCode() string
}

// CallError 一次调用的错误
type CallError struct {
	Op   Command
	Peer types.NodeID
	Err  error
}

// Error 实现 error 接口
func (e *CallError) Error() string {
	return fmt.Sprintf("rpc %s -> %s: %v", e.Op, e.Peer.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *CallError) Unwrap() error {
	return e.Err
}

// IsTransport 判断错误是否为传输失败
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
