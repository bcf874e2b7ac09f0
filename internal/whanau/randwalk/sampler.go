package randwalk

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/dep2p/go-whanau/internal/core/batch"
	"github.com/dep2p/go-whanau/internal/core/record"
	"github.com/dep2p/go-whanau/internal/core/rpc"
	"github.com/dep2p/go-whanau/internal/whanau/state"
)

// Config 采样器配置
type Config struct {
	// MaxSteps 最大游走步数（W）
	MaxSteps int

	// PerStepTimeout 每一步的远程调用时间
	PerStepTimeout time.Duration

	// PerStepProcTime 每一步的本地处理时间
	PerStepProcTime time.Duration

	// Workers 单次填充的并发上限（<= 0 不限制）
	Workers int
}

// FillTimeout 返回第 steps 层填充的期限
func (c Config) FillTimeout(steps int) time.Duration {
	return (c.PerStepTimeout+c.PerStepProcTime)*time.Duration(steps) - c.PerStepProcTime
}

// FillObserver 观察每次填充（指标使用）
type FillObserver interface {
	ObserveFill(level, requested, received int, elapsed time.Duration)
}

// Sampler 随机游走采样器
type Sampler struct {
	st       *state.State
	cfg      Config
	log      *slog.Logger
	observer FillObserver

	mu      sync.Mutex
	gen     uint64 // 每次 Reset 递增，旧一轮的填充据此放弃释放与合并
	depth   int
	walks   [][]record.Sample
	open    []bool
	fills   []int
	changed chan struct{}
}

// New 创建采样器
func New(st *state.State, cfg Config, depth int, observer FillObserver) *Sampler {
	s := &Sampler{
		st:       st,
		cfg:      cfg,
		log:      st.Logger(),
		observer: observer,
		changed:  make(chan struct{}),
	}
	s.Reset(depth)
	return s
}

// Reset 清空缓存并设置新的深度
func (s *Sampler) Reset(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.depth = depth
	s.walks = make([][]record.Sample, s.cfg.MaxSteps+1)
	s.open = make([]bool, s.cfg.MaxSteps+1)
	s.fills = make([]int, s.cfg.MaxSteps+1)
	s.broadcastLocked()
}

// Depth 返回缓存深度
func (s *Sampler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

func (s *Sampler) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Sample 获取 numNodes 个 steps 步随机游走的结果
func (s *Sampler) Sample(ctx context.Context, numNodes, steps int) ([]record.Sample, error) {
	if steps < 0 || steps > s.cfg.MaxSteps {
		s.log.Warn("游走步数越界", "numNodes", numNodes, "steps", steps, "max", s.cfg.MaxSteps)
		return nil, fmt.Errorf("%w: %d", ErrStepsOutOfRange, steps)
	}
	if numNodes < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, numNodes)
	}

	// 终点：用本节点自己的记录与新令牌合成
	if steps == 0 {
		return s.synthesize(numNodes)
	}

	s.mu.Lock()
	s.purgeExpiredLocked(steps)
	if len(s.walks[steps]) >= numNodes {
		out := s.withdrawLocked(numNodes, steps)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	if len(s.st.ActivePeers()) == 0 {
		s.log.Warn("没有活跃邻居，放弃采样", "numNodes", numNodes, "steps", steps)
		return nil, ErrNoActivePeers
	}

	for level := 1; level <= steps; level++ {
		if err := s.fill(ctx, numNodes, level); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.walks[steps]) >= numNodes {
		return s.withdrawLocked(numNodes, steps), nil
	}
	s.log.Warn("填充后仍然不足", "numNodes", numNodes, "steps", steps, "have", len(s.walks[steps]))
	return nil, ErrExhausted
}

// synthesize 0 步游走：随机挑选本节点记录（可重复）并配上新令牌
func (s *Sampler) synthesize(numNodes int) ([]record.Sample, error) {
	out := make([]record.Sample, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		r, err := s.st.RandomMyRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, record.Sample{Record: r, Token: s.st.GenerateToken()})
	}
	return out, nil
}

// purgeExpiredLocked 删除 level 层过期的条目
func (s *Sampler) purgeExpiredLocked(level int) {
	v := s.st.Validator()
	kept := s.walks[level][:0]
	for _, e := range s.walks[level] {
		if e.Record != nil && !v.IsExpired(e.Record) {
			kept = append(kept, e)
		}
	}
	s.walks[level] = kept
}

// withdrawLocked 从 level 层随机无放回取出 n 个条目
func (s *Sampler) withdrawLocked(n, level int) []record.Sample {
	list := s.walks[level]
	out := make([]record.Sample, 0, n)
	for i := 0; i < n && len(list) > 0; i++ {
		idx := rand.IntN(len(list))
		out = append(out, list[idx])
		list[idx] = list[len(list)-1]
		list = list[:len(list)-1]
	}
	s.walks[level] = list
	return out
}

// hasLowerOpenLocked 是否有 <= level 的填充在进行
func (s *Sampler) hasLowerOpenLocked(level int) bool {
	for i := 1; i <= level; i++ {
		if s.open[i] {
			return true
		}
	}
	return false
}

// fill 填充第 level 层
//
// 先等待所有 <= level 的填充结束，再在同一临界区内占用该层。
func (s *Sampler) fill(ctx context.Context, numNodes, level int) error {
	s.mu.Lock()
	for s.hasLowerOpenLocked(level) {
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}

	have := len(s.walks[level])
	if numNodes <= have {
		s.mu.Unlock()
		return nil
	}
	s.fills[level]++
	var limit int
	if s.fills[level] == 1 {
		limit = s.depth * (s.cfg.MaxSteps - level + 1)
	} else {
		limit = s.depth + numNodes
	}
	s.open[level] = true
	gen := s.gen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.open[level] = false
			s.broadcastLocked()
		}
		s.mu.Unlock()
	}()

	peers := s.st.ActivePeers()
	if len(peers) == 0 {
		return nil
	}

	// 把请求数随机分配给活跃邻居
	requests := make([]int, len(peers))
	for i := have; i < limit; i++ {
		requests[rand.IntN(len(peers))]++
	}

	start := time.Now()
	b := batch.New[int, []record.Sample](ctx, s.cfg.Workers)
	for i, ch := range peers {
		if requests[i] == 0 {
			continue
		}
		ch, n := ch, requests[i]
		b.Go(i, func(ctx context.Context) ([]record.Sample, error) {
			return s.remoteSample(ctx, ch, n, level-1)
		})
	}
	results := b.Wait(s.cfg.FillTimeout(level))

	received := 0
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug("缓存已重置，丢弃旧一轮的填充结果", "level", level)
		return nil
	}
	for _, samples := range results {
		received += s.addLocked(samples, level)
	}
	s.mu.Unlock()

	s.log.Debug("填充完成", "level", level, "requested", limit-have, "received", received,
		"peers", b.Len(), "elapsed", time.Since(start))
	if s.observer != nil {
		s.observer.ObserveFill(level, limit-have, received, time.Since(start))
	}
	return nil
}

// remoteSample 向邻居请求 n 个 steps 步的游走
func (s *Sampler) remoteSample(ctx context.Context, ch *rpc.Channel, n, steps int) ([]record.Sample, error) {
	var out []record.Sample
	if err := ch.Call(ctx, &rpc.SampleNodesArgs{NumNodes: n, Steps: steps}, &out); err != nil {
		s.log.Warn("邻居 sampleNodes 调用失败", "peer", ch.Target().String(), "err", err)
		return nil, err
	}
	return out, nil
}

// addLocked 校验并合并一批结果，返回接受的条目数
func (s *Sampler) addLocked(samples []record.Sample, level int) int {
	v := s.st.Validator()
	added := 0
	for _, e := range samples {
		if e.Token == "" || !record.Check(v, e.Record) {
			s.log.Warn("丢弃无效的游走结果", "level", level)
			continue
		}
		s.walks[level] = append(s.walks[level], e)
		added++
	}
	return added
}

// ============================================================================
//                              诊断
// ============================================================================

// LevelStats 单层缓存统计
type LevelStats struct {
	Level  int `json:"level"`
	Cached int `json:"cached"`
	Fills  int `json:"fills"`
}

// Stats 返回各层缓存统计（由高到低）
func (s *Sampler) Stats() []LevelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LevelStats, 0, len(s.walks))
	for i := len(s.walks) - 1; i >= 0; i-- {
		out = append(out, LevelStats{Level: i, Cached: len(s.walks[i]), Fills: s.fills[i]})
	}
	return out
}

// String 返回缓存的文本描述
func (s *Sampler) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RandomWalkCache: depth=%d\n", s.Depth())
	b.WriteString("level - items - fills\n")
	for _, ls := range s.Stats() {
		fmt.Fprintf(&b, "\t%d - %d - %d\n", ls.Level, ls.Cached, ls.Fills)
	}
	return b.String()
}
