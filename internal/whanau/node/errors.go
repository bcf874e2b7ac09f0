package node

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/pkg/types"
)

// 访问控制错误
var (
	// ErrUnauthorized 调用方无权调用该命令
	ErrUnauthorized = errors.New("node: unauthorized")

	// ErrTokenInvalid 查询令牌无效或已被使用
	ErrTokenInvalid = errors.New("node: invalid query token")

	// ErrWalkBudgetExceeded 邻居本轮的游走预算已用完
	ErrWalkBudgetExceeded = errors.New("node: walk budget exceeded")

	// ErrRateLimited 邻居请求过于频繁
	ErrRateLimited = errors.New("node: rate limited")
)

// 其他错误
var (
	// ErrNotStarted 节点尚未启动
	ErrNotStarted = errors.New("node: not started")

	// ErrClosed 节点已关闭
	ErrClosed = errors.New("node: closed")

	// ErrUnsupported 不支持的命令
	ErrUnsupported = errors.New("node: unsupported command")
)

// ACLError 访问控制拒绝
type ACLError struct {
	Op     rpc.Command
	Caller types.NodeID
	Err    error
}

// Error 实现 error 接口
func (e *ACLError) Error() string {
	return fmt.Sprintf("%s from %s: %v", e.Op, e.Caller.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *ACLError) Unwrap() error {
	return e.Err
}

// RPCCode 实现 rpc.CodedError
func (e *ACLError) RPCCode() string {
	return rpc.CodeUnauthorized
}
