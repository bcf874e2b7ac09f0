package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
	"github.com/dep2p/go-whanau/pkg/types"
)

// Params 一次 lookup 的参数
type Params struct {
	// LookupTimeout 并行 lookupTry 的期限
	LookupTimeout time.Duration

	// QueryTimeout 远端 lookupTry 内部 query 的期限
	QueryTimeout time.Duration

	// NumThreads 并行的 lookupTry 数量
	NumThreads int

	// W 游走步数
	W int
}

// Observer 观察每次 lookup（指标使用）
type Observer interface {
	ObserveLookup(elapsed time.Duration, cached bool, err error)
}

// Client 查找协议的客户端
type Client struct {
	coord    *setup.Coordinator
	log      *slog.Logger
	cache    *expirable.LRU[types.Key, *record.Record]
	observer Observer
}

// NewClient 创建客户端
//
// cacheSize <= 0 时不缓存结果。
func NewClient(coord *setup.Coordinator, cacheSize int, cacheTTL time.Duration, observer Observer) *Client {
	c := &Client{
		coord:    coord,
		log:      coord.State().Logger(),
		observer: observer,
	}
	if cacheSize > 0 {
		c.cache = expirable.NewLRU[types.Key, *record.Record](cacheSize, nil, cacheTTL)
	}
	return c
}

// Lookup 查找 key 对应的记录
func (c *Client) Lookup(ctx context.Context, p Params, key types.Key) (rec *record.Record, err error) {
	start := time.Now()
	cached := false
	defer func() {
		if c.observer != nil {
			c.observer.ObserveLookup(time.Since(start), cached, err)
		}
	}()

	st := c.coord.State()
	v := st.Validator()

	if c.cache != nil {
		if hit, ok := c.cache.Get(key); ok {
			if v.CheckKey(key, hit) {
				cached = true
				return hit, nil
			}
			c.cache.Remove(key)
		}
	}

	queryMillis := p.QueryTimeout.Milliseconds()
	replies, err := setup.ParallelQuery(ctx, c.coord, st.SetupNumber(), setup.Query[*record.Record]{
		NumNodes: p.NumThreads,
		Steps:    p.W,
		Timeout:  p.LookupTimeout,
		Call: func(s record.Sample) rpc.Call {
			return &rpc.LookupTryArgs{Token: s.Token, QueryTimeoutMillis: queryMillis, Key: key}
		},
		Accept: func(r *record.Record) bool {
			if v.CheckKey(key, r) {
				return true
			}
			c.log.Warn("lookupTry 返回了伪造的记录", "key", key)
			return false
		},
	})
	if err != nil {
		c.log.Warn("lookup 失败", "key", key, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	rec = replies[0].Value
	if c.cache != nil {
		c.cache.Add(key, rec)
	}
	c.log.Info("lookup 成功", "key", key, "value", rec.Value, "elapsed", time.Since(start))
	return rec, nil
}

// Purge 清空结果缓存
func (c *Client) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}
