package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// RateMeter - 速率计算器
// ============================================================================

// rateWindow 窗口内的 1 秒桶数
const rateWindow = 60

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶来计算最近 60 秒的平均速率。
type RateMeter struct {
	clk clock.Clock

	mu       sync.RWMutex
	buckets  [rateWindow]int64
	lastIdx  int
	lastTime time.Time
}

// NewRateMeter 创建速率计算器（clk 为 nil 时使用系统时钟）
func NewRateMeter(clk clock.Clock) *RateMeter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateMeter{
		clk:      clk,
		lastTime: clk.Now(),
	}
}

// advanceLocked 把窗口推进到当前时间
func (r *RateMeter) advanceLocked() {
	now := r.clk.Now()
	elapsed := now.Sub(r.lastTime)
	if elapsed < time.Second {
		return
	}

	seconds := int(elapsed / time.Second)
	if seconds >= rateWindow {
		// 超过一个窗口没有数据
		r.buckets = [rateWindow]int64{}
		r.lastIdx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.lastIdx = (r.lastIdx + 1) % rateWindow
			r.buckets[r.lastIdx] = 0
		}
	}
	r.lastTime = r.lastTime.Add(time.Duration(seconds) * time.Second)
}

// Add 把 n 计入当前桶
func (r *RateMeter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked()
	r.buckets[r.lastIdx] += n
}

// Total 返回窗口内的总量
func (r *RateMeter) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked()

	var total int64
	for _, v := range r.buckets {
		total += v
	}
	return total
}

// Rate 返回窗口内的平均速率（每秒）
func (r *RateMeter) Rate() float64 {
	return float64(r.Total()) / rateWindow
}

// Reset 重置速率计算器
func (r *RateMeter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = [rateWindow]int64{}
	r.lastIdx = 0
	r.lastTime = r.clk.Now()
}
