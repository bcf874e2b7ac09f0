package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-whanau/internal/util/logger"
	"github.com/dep2p/go-whanau/pkg/types"
)

var log = logger.Logger("rpc")

// Observer 调用观测（指标）
type Observer interface {
	ObserveCall(cmd Command, elapsed time.Duration, err error)
}

// Client 创建 Channel 的工厂，持有共享的拨号器与观测器
type Client struct {
	dialer   Dialer
	observer Observer
}

// NewClient 创建客户端
func NewClient(dialer Dialer, observer Observer) *Client {
	return &Client{dialer: dialer, observer: observer}
}

// Channel 返回到 target 的逻辑通道
func (c *Client) Channel(target types.Target) *Channel {
	ch := &Channel{client: c, target: target}
	ch.active.Store(true)
	return ch
}

// Channel 到一个对端的逻辑通道
//
// 每次 Call 打开一条新的安全连接。传输失败会把对端标记为不活跃，
// 传输成功会重新标记为活跃。
type Channel struct {
	client *Client
	target types.Target
	active atomic.Bool
}

// Target 返回对端目标
func (ch *Channel) Target() types.Target {
	return ch.target
}

// Active 对端上次调用是否成功
func (ch *Channel) Active() bool {
	return ch.active.Load()
}

// SetActive 设置活跃标记
func (ch *Channel) SetActive(active bool) {
	ch.active.Store(active)
}

// Call 发起一次调用，把结果解码到 out
//
// out 为 nil 时丢弃结果。远端返回空结果时返回 ErrNilResult。
func (ch *Channel) Call(ctx context.Context, call Call, out any) (err error) {
	start := time.Now()
	cmd := call.Command()
	defer func() {
		if ch.client.observer != nil {
			ch.client.observer.ObserveCall(cmd, time.Since(start), err)
		}
	}()

	args, err := json.Marshal(call)
	if err != nil {
		return &CallError{Op: cmd, Peer: ch.target.ID, Err: err}
	}
	req := Request{ID: uuid.NewString(), Command: cmd, Args: args}

	resp, err := ch.roundTrip(ctx, &req)
	if err != nil {
		// 主动取消（例如批量中已有结果被接受）不代表对端失效；
		// 以 DeadlineExceeded 为原因的取消视为超时
		if !errors.Is(context.Cause(ctx), context.Canceled) {
			ch.active.Store(false)
			log.Debug("调用失败，标记对端不活跃", "cmd", cmd, "peer", ch.target.String(), "err", err)
		}
		return &CallError{Op: cmd, Peer: ch.target.ID, Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	ch.active.Store(true)

	if resp.Error != "" {
		return &CallError{Op: cmd, Peer: ch.target.ID, Err: &RemoteError{Code: resp.Code, Message: resp.Error}}
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return &CallError{Op: cmd, Peer: ch.target.ID, Err: ErrNilResult}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return &CallError{Op: cmd, Peer: ch.target.ID, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// roundTrip 建连、写请求、读响应、关闭
func (ch *Channel) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	conn, err := ch.client.dialer.DialPeer(ctx, ch.target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// context 取消时关闭连接，打断阻塞的读写
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, req); err != nil {
		return nil, ctxErr(ctx, err)
	}
	var resp Response
	if err := readFrame(conn, &resp); err != nil {
		return nil, ctxErr(ctx, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id mismatch: %s != %s", resp.ID, req.ID)
	}
	return &resp, nil
}

// ctxErr 优先返回 context 错误
func ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return context.DeadlineExceeded
	}
	return err
}
