package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-whanau/config"
	"github.com/dep2p/go-whanau/internal/core/rpc"
)

// ============================================================================
// RateMeter 测试
// ============================================================================

// TestRateMeter_Window 测试滑动窗口
func TestRateMeter_Window(t *testing.T) {
	clk := clock.NewMock()
	m := NewRateMeter(clk)

	m.Add(30)
	clk.Add(10 * time.Second)
	m.Add(30)
	assert.Equal(t, int64(60), m.Total())
	assert.InDelta(t, 1.0, m.Rate(), 1e-9)

	// 第一个桶滑出窗口
	clk.Add(55 * time.Second)
	assert.Equal(t, int64(30), m.Total())

	// 超过一个窗口没有数据
	clk.Add(2 * time.Minute)
	assert.Zero(t, m.Total())

	m.Add(5)
	m.Reset()
	assert.Zero(t, m.Total())

	t.Log("✅ 滑动窗口正确")
}

// ============================================================================
// Collector 测试
// ============================================================================

// TestCollector_Calls 测试调用按结果归类
func TestCollector_Calls(t *testing.T) {
	c := NewCollector(clock.NewMock())
	remote := &rpc.CallError{Op: rpc.CmdGetID, Err: &rpc.RemoteError{Code: rpc.CodeUnauthorized}}
	transport := &rpc.CallError{Op: rpc.CmdGetID, Err: fmt.Errorf("%w: refused", rpc.ErrTransport)}
	null := &rpc.CallError{Op: rpc.CmdGetID, Err: rpc.ErrNilResult}

	c.ObserveCall(rpc.CmdGetID, time.Millisecond, nil)
	c.ObserveCall(rpc.CmdGetID, time.Millisecond, remote)
	c.ObserveCall(rpc.CmdGetID, time.Millisecond, transport)
	c.ObserveCall(rpc.CmdGetID, time.Millisecond, null)
	c.ObserveCall(rpc.CmdQuery, time.Millisecond, errors.New("boom"))

	cmd := string(rpc.CmdGetID)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues(cmd, ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues(cmd, ResultRemote)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues(cmd, ResultTransport)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues(cmd, ResultNil)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues(string(rpc.CmdQuery), ResultError)))

	rates := c.CallRates()
	require.Len(t, rates, 2)
	assert.Equal(t, rpc.CmdGetID, rates[0].Command)
	assert.Equal(t, int64(4), rates[0].Total)

	t.Log("✅ 调用指标正确")
}

// TestCollector_Observers 测试其余观察者
func TestCollector_Observers(t *testing.T) {
	c := NewCollector(nil)

	c.ObserveFill(2, 10, 7, time.Second)
	c.ObserveSetup(1, time.Second, nil)
	c.ObserveSetup(2, time.Second, errors.New("failed"))
	c.ObserveLookup(time.Millisecond, true, nil)
	c.ObserveLookup(time.Millisecond, false, errors.New("not found"))
	c.ObserveRejection(rpc.CmdSampleNodes, errors.New("denied"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.fills.WithLabelValues("2")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.walkNodes.WithLabelValues("requested")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.walkNodes.WithLabelValues("received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues(ResultOK, "cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues(ResultError, "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejections.WithLabelValues(string(rpc.CmdSampleNodes))))
	assert.Equal(t, 2, testutil.CollectAndCount(c.setups))

	t.Log("✅ 观察者指标正确")
}

// ============================================================================
// HTTP 端点与模块测试
// ============================================================================

func scrape(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// TestServer_Scrape 测试指标端点
func TestServer_Scrape(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveRejection(rpc.CmdAddPeer, nil)

	s := NewServer("127.0.0.1:0", c)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	body := scrape(t, s.Addr().String())
	assert.Contains(t, body, `whanau_acl_rejections_total{command="addPeer"} 1`)
	assert.Contains(t, body, "go_goroutines")

	t.Log("✅ 指标端点可抓取")
}

// TestModule_Disabled 测试未启用时只提供收集器
func TestModule_Disabled(t *testing.T) {
	var c *Collector
	app := fxtest.New(t, Module(), fx.Populate(&c))
	defer app.RequireStart().RequireStop()

	require.NotNil(t, c)
}

// TestModule_Enabled 测试启用时启动端点
func TestModule_Enabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	var c *Collector
	app := fxtest.New(t, fx.Supply(cfg), Module(), fx.Populate(&c))
	app.RequireStart()
	app.RequireStop()

	require.NotNil(t, c)
	t.Log("✅ 模块生命周期正确")
}
