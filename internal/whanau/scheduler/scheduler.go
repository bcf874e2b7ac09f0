// Package scheduler 周期性驱动 setup
//
// 每个间隔推进一步，三步组成一轮：
//
//	0: setSetupStage(0)
//	1: 后台运行阶段一
//	2: 后台运行阶段二
//
// 上一步的后台 setup 未结束时本次间隔跳过，不推进。
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
)

var log = logger.Logger("whanau/scheduler")

// Target 被驱动的节点
type Target interface {
	SetSetupStage(stage int)
	RunSetup(part int, p setup.Params) bool
	SetupRunning() bool
}

// 一轮中的步骤
const (
	stepReset = iota
	stepPart1
	stepPart2
	numSteps
)

// Scheduler 周期性 setup 驱动器
type Scheduler struct {
	target   Target
	interval time.Duration
	params   setup.Params
	clk      clock.Clock
	log      *slog.Logger

	mu      sync.Mutex
	step    int
	rounds  int
	skipped int

	cancel context.CancelFunc
	done   chan struct{}
}

// Option 调度器选项
type Option func(*Scheduler)

// WithClock 指定时钟（测试使用 clock.NewMock）
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithLogger 指定日志
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New 创建调度器
//
// params 的零值字段由节点按配置补齐。
func New(target Target, interval time.Duration, params setup.Params, opts ...Option) *Scheduler {
	s := &Scheduler{
		target:   target,
		interval: interval,
		params:   params,
		clk:      clock.New(),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 开始计时
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	ticker := s.clk.Ticker(s.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-ctx.Done():
				return
			}
		}
	}(s.done)
	s.log.Info("setup 调度已启动", "interval", s.interval)
}

// Stop 停止计时，等待循环退出（不取消正在运行的后台 setup）
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("setup 调度已停止")
}

// tick 推进一步
func (s *Scheduler) tick() {
	if s.target.SetupRunning() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.log.Warn("上一次 setup 仍在运行，跳过本次")
		return
	}

	s.mu.Lock()
	step := s.step
	s.mu.Unlock()

	switch step {
	case stepReset:
		s.target.SetSetupStage(0)
	case stepPart1, stepPart2:
		if !s.target.RunSetup(step, s.params) {
			s.log.Warn("无法启动 setup", "part", step)
			return
		}
	}

	s.mu.Lock()
	s.step = (step + 1) % numSteps
	if s.step == stepReset {
		s.rounds++
	}
	s.mu.Unlock()
	s.log.Debug("setup 调度推进", "step", step)
}

// Stats 调度器统计
type Stats struct {
	NextStep int `json:"next_step"`
	Rounds   int `json:"rounds"`
	Skipped  int `json:"skipped"`
}

// Stats 返回统计
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{NextStep: s.step, Rounds: s.rounds, Skipped: s.skipped}
}
