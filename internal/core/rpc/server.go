package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dep2p/go-whanau/pkg/types"
)

// Handler 处理一个已解码的调用
//
// caller 是握手得到的调用方身份。返回的错误若实现 CodedError，
// 其错误码写入响应。
type Handler interface {
	Handle(ctx context.Context, caller types.NodeID, call Call) (any, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, caller types.NodeID, call Call) (any, error)

// Handle 实现 Handler
func (f HandlerFunc) Handle(ctx context.Context, caller types.NodeID, call Call) (any, error) {
	return f(ctx, caller, call)
}

// ServerConfig 服务端参数
type ServerConfig struct {
	// HandshakeTimeout 入站握手 + 读请求的超时
	HandshakeTimeout time.Duration

	// WriteTimeout 写响应的超时
	WriteTimeout time.Duration
}

// DefaultServerConfig 返回默认服务端参数
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     30 * time.Second,
	}
}

// Server 入站请求服务
//
// 每个连接：握手、读一个请求、分发、写一个响应、关闭。
type Server struct {
	transport Transport
	handler   Handler
	cfg       ServerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer 创建服务
func NewServer(transport Transport, handler Handler, cfg ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		transport: transport,
		handler:   handler,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Listen 在 addr 上开始监听并在后台服务
func (s *Server) Listen(addr string) (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	if s.listener != nil {
		return nil, errors.New("rpc: server already listening")
	}

	ln, err := s.transport.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)

	log.Info("RPC 服务已启动", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// acceptLoop 接受连接
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.Warn("接受连接失败", "err", err)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(raw)
		}()
	}
}

// serveConn 服务一个连接
func (s *Server) serveConn(raw net.Conn) {
	defer raw.Close()

	hsCtx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	conn, caller, err := s.transport.SecureInbound(hsCtx, raw)
	cancel()
	if err != nil {
		log.Debug("入站握手失败", "remote", raw.RemoteAddr().String(), "err", err)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	var req Request
	if err := readFrame(conn, &req); err != nil {
		log.Debug("读取请求失败", "caller", caller.ShortString(), "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// 连接关闭时取消处理（调用方已放弃）
	ctx, cancelCall := context.WithCancel(s.ctx)
	defer cancelCall()
	go func() {
		var b [1]byte
		_, _ = conn.Read(b[:])
		cancelCall()
	}()

	resp := s.dispatch(ctx, caller, &req)

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := writeFrame(conn, resp); err != nil {
		log.Debug("写入响应失败", "cmd", req.Command, "caller", caller.ShortString(), "err", err)
	}
}

// dispatch 解码并调用 Handler
func (s *Server) dispatch(ctx context.Context, caller types.NodeID, req *Request) *Response {
	resp := &Response{ID: req.ID}

	call, err := DecodeCall(req.Command, req.Args)
	if err != nil {
		resp.Code = CodeBadRequest
		resp.Error = err.Error()
		return resp
	}

	result, err := s.handler.Handle(ctx, caller, call)
	if err != nil {
		resp.Code = CodeFailed
		var coded CodedError
		if errors.As(err, &coded) {
			resp.Code = coded.RPCCode()
		}
		resp.Error = err.Error()
		return resp
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Code = CodeFailed
		resp.Error = fmt.Sprintf("encode result: %v", err)
		return resp
	}
	resp.Result = data
	return resp
}

// Addr 返回监听地址
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close 停止监听并等待所有连接处理结束
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}
