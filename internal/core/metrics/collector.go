package metrics

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-whanau/internal/core/rpc"
)

const namespace = "whanau"

// 结果标签
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultTransport = "transport"
	ResultRemote    = "remote"
	ResultNil       = "nil"
)

// Collector 节点指标收集器
//
// 实现节点各组件的观察者接口，把观测写入独立的 Prometheus 注册表，
// 并按命令维护最近 60 秒的调用速率。
type Collector struct {
	clk      clock.Clock
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	callSeconds *prometheus.HistogramVec
	fills       *prometheus.CounterVec
	walkNodes   *prometheus.CounterVec
	setups      *prometheus.HistogramVec
	lookups     *prometheus.CounterVec
	lookupTime  prometheus.Histogram
	rejections  *prometheus.CounterVec

	mu    sync.Mutex
	rates map[rpc.Command]*RateMeter
}

// NewCollector 创建收集器（clk 为 nil 时使用系统时钟）
func NewCollector(clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	c := &Collector{
		clk:      clk,
		registry: prometheus.NewRegistry(),
		rates:    make(map[rpc.Command]*RateMeter),

		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Outgoing RPC calls by command and result.",
		}, []string{"command", "result"}),
		callSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Outgoing RPC call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"command"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "randwalk",
			Name:      "fills_total",
			Help:      "Random walk cache fills by level.",
		}, []string{"level"}),
		walkNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "randwalk",
			Name:      "fill_nodes_total",
			Help:      "Walk endpoints requested and received by cache fills.",
		}, []string{"kind"}),
		setups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "setup",
			Name:      "duration_seconds",
			Help:      "Setup part duration by part and result.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"part", "result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "total",
			Help:      "Lookups by result and source.",
		}, []string{"result", "source"}),
		lookupTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "duration_seconds",
			Help:      "Lookup latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acl",
			Name:      "rejections_total",
			Help:      "Inbound calls rejected by access control.",
		}, []string{"command"}),
	}

	c.registry.MustRegister(
		c.calls, c.callSeconds,
		c.fills, c.walkNodes,
		c.setups,
		c.lookups, c.lookupTime,
		c.rejections,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry 返回注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ============================================================================
//                              观察者实现
// ============================================================================

// ObserveCall 实现 rpc.Observer
func (c *Collector) ObserveCall(cmd rpc.Command, elapsed time.Duration, err error) {
	c.calls.WithLabelValues(string(cmd), callResult(err)).Inc()
	c.callSeconds.WithLabelValues(string(cmd)).Observe(elapsed.Seconds())
	c.meter(cmd).Add(1)
}

// ObserveFill 实现 randwalk.FillObserver
func (c *Collector) ObserveFill(level, requested, received int, _ time.Duration) {
	c.fills.WithLabelValues(strconv.Itoa(level)).Inc()
	c.walkNodes.WithLabelValues("requested").Add(float64(requested))
	c.walkNodes.WithLabelValues("received").Add(float64(received))
}

// ObserveSetup 实现 setup.Observer
func (c *Collector) ObserveSetup(part int, elapsed time.Duration, err error) {
	c.setups.WithLabelValues(strconv.Itoa(part), okOr(err)).Observe(elapsed.Seconds())
}

// ObserveLookup 实现 lookup.Observer
func (c *Collector) ObserveLookup(elapsed time.Duration, cached bool, err error) {
	source := "network"
	if cached {
		source = "cache"
	}
	c.lookups.WithLabelValues(okOr(err), source).Inc()
	c.lookupTime.Observe(elapsed.Seconds())
}

// ObserveRejection 记录一次访问控制拒绝
func (c *Collector) ObserveRejection(cmd rpc.Command, _ error) {
	c.rejections.WithLabelValues(string(cmd)).Inc()
}

// ============================================================================
//                              调用速率
// ============================================================================

// CallRate 单个命令最近 60 秒的调用情况
type CallRate struct {
	Command rpc.Command `json:"command"`
	Total   int64       `json:"total"`
	PerSec  float64     `json:"per_sec"`
}

func (c *Collector) meter(cmd rpc.Command) *RateMeter {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.rates[cmd]
	if !ok {
		m = NewRateMeter(c.clk)
		c.rates[cmd] = m
	}
	return m
}

// CallRates 返回按命令名排序的调用速率
func (c *Collector) CallRates() []CallRate {
	c.mu.Lock()
	meters := make(map[rpc.Command]*RateMeter, len(c.rates))
	for cmd, m := range c.rates {
		meters[cmd] = m
	}
	c.mu.Unlock()

	out := make([]CallRate, 0, len(meters))
	for cmd, m := range meters {
		total := m.Total()
		if total == 0 {
			continue
		}
		out = append(out, CallRate{Command: cmd, Total: total, PerSec: float64(total) / rateWindow})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// ============================================================================
//                              辅助函数
// ============================================================================

func okOr(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// callResult 把调用错误归类为标签值
func callResult(err error) string {
	var remote *rpc.RemoteError
	switch {
	case err == nil:
		return ResultOK
	case rpc.IsTransport(err):
		return ResultTransport
	case errors.Is(err, rpc.ErrNilResult):
		return ResultNil
	case errors.As(err, &remote):
		return ResultRemote
	default:
		return ResultError
	}
}
