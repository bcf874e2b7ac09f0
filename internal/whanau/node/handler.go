package node

import (
	"context"
	"errors"
	"time"

	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/pkg/types"
)

// Handle 实现 rpc.Handler：先做访问控制，再分发到具体命令
func (n *Node) Handle(ctx context.Context, caller types.NodeID, call rpc.Call) (any, error) {
	if err := n.authorize(ctx, caller, call); err != nil {
		n.log.Warn("拒绝调用", "cmd", call.Command(), "caller", caller.ShortString(), "err", err)
		if n.opts.observer != nil {
			n.opts.observer.ObserveRejection(call.Command(), err)
		}
		return nil, err
	}

	switch c := call.(type) {
	// 公开
	case *rpc.GetPubKeyHashArgs:
		return n.id.ID().String(), nil
	case *rpc.WaitStageArgs:
		if err := n.st.WaitForStage(ctx, c.Stage); err != nil {
			return false, nil
		}
		return true, nil
	case *rpc.QueryArgs:
		rec, err := n.router.Query(c.Key, c.Layer)
		if err != nil {
			return nil, nil
		}
		return rec, nil

	// 令牌
	case *rpc.GetIDArgs:
		return n.router.GetID(ctx, c.Layer)
	case *rpc.SuccessorsSampleArgs:
		return n.router.SuccessorsSample(ctx, c.ID)
	case *rpc.LookupTryArgs:
		rec, err := n.router.Try(ctx, c.Key, n.millisOr(c.QueryTimeoutMillis, n.cfg.Timeouts.Query.Duration()))
		if err != nil {
			return nil, nil
		}
		return rec, nil

	// 邻居
	case *rpc.SampleNodesArgs:
		return n.sampler.Sample(ctx, c.NumNodes, c.Steps)

	// 控制
	default:
		return n.handleControl(ctx, call)
	}
}

// authorize 按命令类别检查调用方
//
// 令牌在此处消耗，处理函数不再检查。
func (n *Node) authorize(_ context.Context, caller types.NodeID, call rpc.Call) error {
	cmd := call.Command()
	class, ok := rpc.ClassOf(cmd)
	if !ok {
		return &ACLError{Op: cmd, Caller: caller, Err: ErrUnsupported}
	}

	switch class {
	case rpc.ClassPublic:
		return nil

	case rpc.ClassToken:
		tok, ok := call.(rpc.Tokened)
		if !ok || !n.st.CollectToken(tok.QueryToken()) {
			return &ACLError{Op: cmd, Caller: caller, Err: ErrTokenInvalid}
		}
		return nil

	case rpc.ClassPeer:
		if !n.st.IsPeer(caller) {
			return &ACLError{Op: cmd, Caller: caller, Err: ErrUnauthorized}
		}
		if !n.acl.allowSample(caller) {
			return &ACLError{Op: cmd, Caller: caller, Err: ErrRateLimited}
		}
		args, _ := call.(*rpc.SampleNodesArgs)
		if args != nil {
			count, ok := n.st.AddWalkCount(caller, args.NumNodes*args.Steps)
			if !ok {
				return &ACLError{Op: cmd, Caller: caller, Err: ErrUnauthorized}
			}
			if n.acl.overBudget(count) {
				return &ACLError{Op: cmd, Caller: caller, Err: ErrWalkBudgetExceeded}
			}
		}
		return nil

	case rpc.ClassControl:
		if !n.acl.allowControl(caller) {
			return &ACLError{Op: cmd, Caller: caller, Err: ErrUnauthorized}
		}
		return nil
	}
	return &ACLError{Op: cmd, Caller: caller, Err: ErrUnauthorized}
}

// millisOr 毫秒参数为正时使用之，否则使用默认值
func (n *Node) millisOr(ms int64, def time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// IsAuthorizationError 判断错误是否为访问控制拒绝
func IsAuthorizationError(err error) bool {
	var acl *ACLError
	return errors.As(err, &acl)
}
