package setup

import (
	"context"
	"time"

	"github.com/dep2p/go-whanau/internal/core/batch"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/pkg/types"
)

// Query 一次并行查询
type Query[T any] struct {
	// NumNodes 随机游走目标数
	NumNodes int

	// Steps 游走步数
	Steps int

	// Timeout 整批的绝对期限
	Timeout time.Duration

	// Call 用游走结果（记录与令牌）构造发给目标的调用
	Call func(s record.Sample) rpc.Call

	// Accept 非空时返回第一个被接受的结果
	Accept func(T) bool
}

// Reply 一个目标的成功结果
type Reply[T any] struct {
	Target types.Target
	Value  T
}

// ParallelQuery 采样 NumNodes 个游走目标，并行发起调用
//
// 返回所有成功且非空的结果；没有任何结果时返回 ErrNoResults。
// 设置了 Accept 时最多返回一个结果。
func ParallelQuery[T any](ctx context.Context, c *Coordinator, round int, q Query[T]) ([]Reply[T], error) {
	samples, err := c.PersistentSample(ctx, round, q.NumNodes, q.Steps)
	if err != nil {
		c.log.Error("并行查询无法采样足够的目标", "numNodes", q.NumNodes, "steps", q.Steps, "err", err)
		return nil, err
	}

	v := c.st.Validator()
	client := c.st.Client()
	targets := make([]types.Target, len(samples))

	b := batch.New[int, T](ctx, c.cfg.Workers)
	for i, s := range samples {
		target, err := v.OwnerTarget(s.Record)
		if err != nil {
			continue
		}
		targets[i] = target
		ch, call := client.Channel(target), q.Call(s)
		b.Go(i, func(ctx context.Context) (T, error) {
			var out T
			err := ch.Call(ctx, call, &out)
			return out, err
		})
	}

	var replies []Reply[T]
	if q.Accept != nil {
		i, val, ok := b.WaitFirst(q.Timeout, func(_ int, val T) bool { return q.Accept(val) })
		if ok {
			replies = append(replies, Reply[T]{Target: targets[i], Value: val})
		}
	} else {
		for i, val := range b.Wait(q.Timeout) {
			replies = append(replies, Reply[T]{Target: targets[i], Value: val})
		}
	}

	if len(replies) == 0 {
		c.log.Warn("并行查询没有结果", "numNodes", q.NumNodes, "steps", q.Steps, "errors", len(b.Errors()))
		return nil, ErrNoResults
	}
	return replies, nil
}
