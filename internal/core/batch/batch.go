// Package batch 提供有界并发的批量任务执行器
//
// 一个 Batch 提交若干命名任务，在信号量限制的并发度下运行，
// 然后以两种方式之一收集结果：
//
//   - Wait: 等待全部完成或到达期限，取消未完成的任务，返回已成功的结果
//   - WaitFirst: 返回第一个被接受的结果，随即取消其余任务
//
// 到期时部分结果是有效的"尽力而为"结果，而不是错误。
//
// 任务 context 的取消原因（context.Cause）区分两种情况：到期取消为
// context.DeadlineExceeded，结果已被接受或主动收尾时为 context.Canceled。
//
// 使用示例:
//
//	b := batch.New[types.NodeID, string](ctx, 16)
//	for _, p := range peers {
//	    p := p
//	    b.Go(p.ID, func(ctx context.Context) (string, error) { return call(ctx, p) })
//	}
//	results := b.Wait(5 * time.Second)
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Task 一个可取消的任务
type Task[T any] func(ctx context.Context) (T, error)

// entry 一个已完成任务的结果
type entry[K comparable, T any] struct {
	key K
	val T
}

// Batch 批量任务执行器
//
// Batch 只能收集一次：Wait/WaitFirst 返回后，之后提交的任务不会运行。
type Batch[K comparable, T any] struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	sem    *semaphore.Weighted

	wg sync.WaitGroup

	mu       sync.Mutex
	results  []entry[K, T]
	errs     map[K]error
	started  int
	finished int
	sealed   bool
	changed  chan struct{}
}

// New 创建执行器
//
// workers <= 0 表示不限制并发度。
func New[K comparable, T any](ctx context.Context, workers int) *Batch[K, T] {
	ctx, cancel := context.WithCancelCause(ctx)
	b := &Batch[K, T]{
		ctx:     ctx,
		cancel:  cancel,
		errs:    make(map[K]error),
		changed: make(chan struct{}, 1),
	}
	if workers > 0 {
		b.sem = semaphore.NewWeighted(int64(workers))
	}
	return b
}

// Go 提交一个命名任务
//
// 同名任务各自运行，结果都会保留（Wait 返回的 map 中后完成者覆盖先完成者）。
func (b *Batch[K, T]) Go(key K, task Task[T]) {
	b.mu.Lock()
	if b.sealed {
		b.mu.Unlock()
		return
	}
	b.started++
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		if b.sem != nil {
			if err := b.sem.Acquire(b.ctx, 1); err != nil {
				b.finish(key, *new(T), err)
				return
			}
			defer b.sem.Release(1)
		}

		val, err := run(b.ctx, task)
		b.finish(key, val, err)
	}()
}

// run 执行任务并把 panic 转为错误
func run[T any](ctx context.Context, task Task[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch: task panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return val, err
	}
	return task(ctx)
}

// finish 记录任务结果并通知等待者
func (b *Batch[K, T]) finish(key K, val T, err error) {
	b.mu.Lock()
	b.finished++
	if !b.sealed {
		if err != nil {
			b.errs[key] = err
		} else {
			b.results = append(b.results, entry[K, T]{key: key, val: val})
		}
	}
	b.mu.Unlock()

	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// Len 已提交的任务数
func (b *Batch[K, T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Wait 等待全部任务完成或 timeout 到期
//
// 到期后取消未完成的任务，返回所有成功完成的结果。
func (b *Batch[K, T]) Wait(timeout time.Duration) map[K]T {
	b.await(timeout, nil)
	return b.seal()
}

// WaitFirst 等待第一个被 accept 接受的结果
//
// 找到后立即取消其余任务。全部完成或到期仍未找到时返回 false。
func (b *Batch[K, T]) WaitFirst(timeout time.Duration, accept func(K, T) bool) (K, T, bool) {
	found, ok := b.await(timeout, accept)
	b.seal()
	return found.key, found.val, ok
}

// await 阻塞直到：全部完成、到期、父 context 取消，或（accept 非空时）找到被接受的结果
func (b *Batch[K, T]) await(timeout time.Duration, accept func(K, T) bool) (entry[K, T], bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	checked := 0
	for {
		b.mu.Lock()
		pending := b.results[checked:]
		done := b.finished == b.started
		b.mu.Unlock()

		if accept != nil {
			for _, e := range pending {
				checked++
				if accept(e.key, e.val) {
					return e, true
				}
			}
		}
		if done {
			return entry[K, T]{}, false
		}

		select {
		case <-b.changed:
		case <-timer.C:
			b.cancel(context.DeadlineExceeded)
			return entry[K, T]{}, false
		case <-b.ctx.Done():
			return entry[K, T]{}, false
		}
	}
}

// seal 取消未完成任务并返回结果快照
//
// 已因到期取消时保留原因不变。
func (b *Batch[K, T]) seal() map[K]T {
	b.cancel(context.Canceled)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true

	out := make(map[K]T, len(b.results))
	for _, e := range b.results {
		out[e.key] = e.val
	}
	return out
}

// Errors 返回失败任务的错误（收集之后调用）
func (b *Batch[K, T]) Errors() map[K]error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[K]error, len(b.errs))
	for k, v := range b.errs {
		out[k] = v
	}
	return out
}

// Drain 等待所有任务的 goroutine 退出（测试与关闭时使用）
func (b *Batch[K, T]) Drain() {
	b.cancel(context.Canceled)
	b.wg.Wait()
}
