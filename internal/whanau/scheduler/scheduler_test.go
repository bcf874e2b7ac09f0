package scheduler

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/internal/whanau/setup"
)

// fakeTarget 记录调度器的调用
type fakeTarget struct {
	events  chan string
	running atomic.Bool
	refuse  atomic.Bool

	mu     sync.Mutex
	params []setup.Params
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{events: make(chan string, 16)}
}

func (f *fakeTarget) SetSetupStage(stage int) {
	f.events <- "stage" + strconv.Itoa(stage)
}

func (f *fakeTarget) RunSetup(part int, p setup.Params) bool {
	if f.refuse.Load() {
		return false
	}
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	f.events <- "part" + strconv.Itoa(part)
	return true
}

func (f *fakeTarget) SetupRunning() bool {
	return f.running.Load()
}

// expect 等待下一个事件
func (f *fakeTarget) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.events:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("等待事件 %s 超时", want)
	}
}

// expectNone 确认没有事件
func (f *fakeTarget) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-f.events:
		t.Fatalf("不应有事件，收到 %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestScheduler(t *testing.T, target Target, params setup.Params) (*Scheduler, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	s := New(target, time.Minute, params, WithClock(clk), WithLogger(logger.Discard()))
	s.Start()
	t.Cleanup(s.Stop)
	return s, clk
}

// TestScheduler_Cycle 测试三步一轮
func TestScheduler_Cycle(t *testing.T) {
	target := newFakeTarget()
	params := setup.Params{W: 3, RD: 4}
	s, clk := newTestScheduler(t, target, params)

	clk.Add(time.Minute)
	target.expect(t, "stage0")
	clk.Add(time.Minute)
	target.expect(t, "part1")
	clk.Add(time.Minute)
	target.expect(t, "part2")
	clk.Add(time.Minute)
	target.expect(t, "stage0")

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Rounds == 1 && st.NextStep == stepPart1
	}, time.Second, 5*time.Millisecond)

	target.mu.Lock()
	assert.Equal(t, []setup.Params{params, params}, target.params)
	target.mu.Unlock()

	t.Log("✅ 调度循环正确")
}

// TestScheduler_SkipWhileRunning 测试后台 setup 未结束时不推进
func TestScheduler_SkipWhileRunning(t *testing.T) {
	target := newFakeTarget()
	s, clk := newTestScheduler(t, target, setup.Params{})

	clk.Add(time.Minute)
	target.expect(t, "stage0")
	clk.Add(time.Minute)
	target.expect(t, "part1")

	target.running.Store(true)
	clk.Add(time.Minute)
	target.expectNone(t)
	require.Eventually(t, func() bool { return s.Stats().Skipped == 1 }, time.Second, 5*time.Millisecond)

	target.running.Store(false)
	clk.Add(time.Minute)
	target.expect(t, "part2")

	t.Log("✅ 运行中跳过正确")
}

// TestScheduler_RetryRefused 测试启动失败时下次重试同一步
func TestScheduler_RetryRefused(t *testing.T) {
	target := newFakeTarget()
	s, clk := newTestScheduler(t, target, setup.Params{})

	clk.Add(time.Minute)
	target.expect(t, "stage0")

	target.refuse.Store(true)
	clk.Add(time.Minute)
	target.expectNone(t)
	assert.Equal(t, stepPart1, s.Stats().NextStep)

	target.refuse.Store(false)
	clk.Add(time.Minute)
	target.expect(t, "part1")
}

// TestScheduler_StopIdempotent 测试重复停止
func TestScheduler_StopIdempotent(t *testing.T) {
	target := newFakeTarget()
	s, clk := newTestScheduler(t, target, setup.Params{})
	s.Stop()
	s.Stop()

	clk.Add(time.Minute)
	target.expectNone(t)
}
