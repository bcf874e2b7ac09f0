package lookup

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dep2p/go-whanau/internal/core/batch"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/internal/whanau/state"
	"github.com/dep2p/go-whanau/pkg/types"
)

// Router 查找协议的服务端
type Router struct {
	st         *state.State
	log        *slog.Logger
	successors int
	workers    int
}

// NewRouter 创建服务端
//
// successors 为 SuccessorsSample 每次返回的记录数。
func NewRouter(st *state.State, successors, workers int) *Router {
	return &Router{
		st:         st,
		log:        st.Logger(),
		successors: successors,
		workers:    workers,
	}
}

// GetID 等待第 layer 层 ID 就绪后返回
func (r *Router) GetID(ctx context.Context, layer int) (types.Key, error) {
	if layer < 0 || layer >= r.st.NumLayers() {
		r.log.Warn("getID 层号越界", "layer", layer)
		return "", state.ErrLayerOutOfRange
	}
	if err := r.st.WaitForStage(ctx, setup.IDStage(layer)); err != nil {
		return "", err
	}
	id, err := r.st.ID(layer)
	if err != nil {
		return "", err
	}
	if id == "" {
		r.log.Error("getID 阶段已到但 ID 为空", "layer", layer)
		return "", ErrNotReady
	}
	return id, nil
}

// SuccessorsSample 等待数据库就绪后，返回数据库中 id 之后的若干条记录
//
// 结果按环上距离 id 由近到远排列，越过最大键后回到最小键。
func (r *Router) SuccessorsSample(ctx context.Context, id types.Key) ([]*record.Record, error) {
	if err := r.st.WaitForStage(ctx, setup.StageDatabase); err != nil {
		return nil, err
	}

	keys := types.SortKeys(append(r.st.DatabaseKeys(), id))
	pos := types.SearchKey(keys, id)

	out := make([]*record.Record, 0, r.successors)
	for i := 0; i < r.successors && i < len(keys)-1; i++ {
		k := keys[(pos+i+1)%len(keys)]
		if rec, ok := r.st.DatabaseGet(k); ok && rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Query 在第 layer 层 successor 表中查找 key
//
// 未找到时返回 nil 记录且不报错。
func (r *Router) Query(key types.Key, layer int) (*record.Record, error) {
	return r.st.Successor(layer, key)
}

// chooseFinger 随机打乱各层顺序，返回第一个在 [id0, key] 环区间内有 finger 的层
func (r *Router) chooseFinger(id0, key types.Key) (int, types.Target, bool) {
	layers := rand.Perm(r.st.NumLayers())
	for _, layer := range layers {
		fingers, err := r.st.Fingers(layer)
		if err != nil {
			continue
		}
		var pool []types.Key
		for id := range fingers {
			if types.InRange(id0, key, id) {
				pool = append(pool, id)
			}
		}
		if len(pool) > 0 {
			pick := pool[rand.IntN(len(pool))]
			return layer, fingers[pick], true
		}
	}
	r.log.Debug("没有区间内的 finger", "from", id0, "key", key)
	return 0, types.Target{}, false
}

// Try 一次查找尝试
func (r *Router) Try(ctx context.Context, key types.Key, queryTimeout time.Duration) (*record.Record, error) {
	fingerIDs, err := r.st.FingerIDs(0)
	if err != nil {
		return nil, err
	}
	if len(fingerIDs) == 0 {
		r.log.Warn("lookupTry 失败：第 0 层没有 finger")
		return nil, ErrNoFingers
	}

	ids := types.SortKeys(append(fingerIDs, key))
	pos := types.SearchKey(ids, key)

	v := r.st.Validator()
	client := r.st.Client()
	b := batch.New[int, *record.Record](ctx, r.workers)
	for i := 1; i < len(ids); i++ {
		idx := (pos - i + len(ids)) % len(ids)
		layer, target, ok := r.chooseFinger(ids[idx], key)
		if !ok {
			continue
		}
		ch := client.Channel(target)
		b.Go(i, func(ctx context.Context) (*record.Record, error) {
			var rec *record.Record
			err := ch.Call(ctx, &rpc.QueryArgs{Key: key, Layer: layer}, &rec)
			return rec, err
		})
	}
	if b.Len() == 0 {
		r.log.Warn("lookupTry 失败：没有合适的 finger", "key", key)
		return nil, ErrNoFingers
	}

	_, rec, ok := b.WaitFirst(queryTimeout, func(_ int, rec *record.Record) bool {
		if v.CheckKey(key, rec) {
			return true
		}
		r.log.Warn("query 结果未通过记录校验", "key", key)
		return false
	})
	if !ok {
		r.log.Warn("lookupTry 失败", "key", key, "queries", b.Len(), "errors", len(b.Errors()))
		return nil, ErrNotFound
	}
	return rec, nil
}
