// Package batch 把一组 WorkItem 摊给任务队列并聚合结果。
//
// 约束：
// - 单个条目失败绝不中断批次（失败折叠进它自己的 PipelineResult）
// - 队列级失败（已停止/拒绝提交）是系统性错误，向上传播
// - ctx 取消 => 停止队列：在跑的条目自然结束，未开始的条目以 interrupted 结算
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/queue"
)

// Processor 处理单个条目。实现必须把条目级错误折叠进结果，并发安全。
type Processor interface {
	Process(ctx context.Context, taskID uuid.UUID, item domain.WorkItem) domain.PipelineResult
}

// Progress 在每个条目结算后被调用（o 个已完成 / total 总数）。
// 回调来自工作 goroutine，实现必须轻量且并发安全。
type Progress func(completed, total int)

type Options struct {
	// Priority 应用于本批次的所有任务（批内公平，FIFO 生效）。
	Priority int
	// EnqueueTimeout > 0 时，排队超过该时长仍未开始的条目以 timeout 结算。
	EnqueueTimeout time.Duration
	// OnProgress 可选。
	OnProgress Progress
}

// Coordinator 驱动一次批处理。
type Coordinator struct {
	q    *queue.Queue
	proc Processor
	opts Options
}

func New(q *queue.Queue, proc Processor, opts Options) (*Coordinator, error) {
	if q == nil {
		return nil, errors.New("batch: queue 不能为空")
	}
	if proc == nil {
		return nil, errors.New("batch: processor 不能为空")
	}
	return &Coordinator{q: q, proc: proc, opts: opts}, nil
}

// Run 为每个条目提交一个队列任务，等待全部结算，按完成顺序返回结果。
//
// 返回的 error 只反映系统性失败（提交被拒、队列停止）；
// 即便非 nil，results 仍包含所有已结算条目的结果。
func (c *Coordinator) Run(ctx context.Context, items []domain.WorkItem) ([]domain.PipelineResult, error) {
	total := len(items)
	if total == 0 {
		return nil, nil
	}

	// ctx 死亡 => 停止队列。watch goroutine 在 Run 返回时回收。
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.q.Stop()
		case <-watchDone:
		}
	}()

	var (
		mu        sync.Mutex
		results   []domain.PipelineResult
		completed int
	)
	settle := func(r domain.PipelineResult) {
		mu.Lock()
		results = append(results, r)
		completed++
		done, n := completed, total
		mu.Unlock()
		if c.opts.OnProgress != nil {
			c.opts.OnProgress(done, n)
		}
	}

	var tasks []*queue.Task
	var pending []domain.WorkItem // 每个已提交 task 对应的条目（Wait 失败时用于结算）
	var systemic error

	for _, it := range items {
		it := it
		idCh := make(chan uuid.UUID, 1)
		fn := func() (any, error) {
			r := c.proc.Process(ctx, <-idCh, it)
			settle(r)
			return r, nil
		}
		task, err := c.q.Submit(fn, queue.SubmitOptions{
			Priority:       c.opts.Priority,
			EnqueueTimeout: c.opts.EnqueueTimeout,
		})
		if err != nil {
			// 队列拒绝：未提交的条目统一结算，随后向上报告系统性失败。
			systemic = err
			settle(refusedResult(it, err))
			continue
		}
		idCh <- task.ID()
		tasks = append(tasks, task)
		pending = append(pending, it)
	}

	// 等待全部结算。Wait 用背景 ctx：即使调用方 ctx 已死，
	// 也要等在跑的任务自然结束（不抢占），取消的 pending 立即返回。
	for i, task := range tasks {
		if _, err := task.Wait(context.Background()); err != nil {
			// 因调用方取消导致的停止按 interrupted 结算，而非 queue_stopped。
			if errors.Is(err, queue.ErrStopped) && ctx.Err() != nil {
				err = &interruptedStop{cause: ctx.Err()}
			}
			settle(refusedResult(pending[i], err))
		}
	}

	mu.Lock()
	out := results
	mu.Unlock()
	return out, systemic
}

// interruptedStop 标记「停止源于调用方取消」的结算错误。
type interruptedStop struct {
	cause error
}

func (e *interruptedStop) Error() string { return "批次被取消：" + e.cause.Error() }

// refusedResult 把队列层错误折叠成条目结果。
func refusedResult(it domain.WorkItem, err error) domain.PipelineResult {
	code := domain.ErrCodeQueueStopped
	var te *queue.TimeoutError
	var is *interruptedStop
	switch {
	case errors.As(err, &te):
		code = domain.ErrCodeTimeout
	case errors.As(err, &is), errors.Is(err, queue.ErrCancelled):
		code = domain.ErrCodeInterrupted
	}
	return domain.PipelineResult{
		ID:        it.ID,
		Source:    it.SourceRel,
		Success:   false,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	}
}
