package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dep2p/go-whanau/internal/util/logger"
)

var log = logger.Logger("metrics")

// readHeaderTimeout 指标端点读取请求头的期限
const readHeaderTimeout = 5 * time.Second

// Server Prometheus 指标 HTTP 端点
type Server struct {
	addr string
	srv  *http.Server

	mu sync.Mutex
	ln net.Listener
}

// NewServer 创建指标端点，路径为 /metrics
func NewServer(addr string, c *Collector) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{
		addr: addr,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start 开始监听
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics: 监听 %s 失败: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("指标端点退出", "err", err)
		}
	}()
	log.Info("指标端点已启动", "addr", ln.Addr().String())
	return nil
}

// Addr 返回实际监听地址（未启动时为 nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
