// Package queue 提供有界并发的任务调度：按优先级入队、空闲槽位准入、
// 单任务可等待（future 语义）、入队超时、批量取消与 stop/resume。
//
// 约束：
// - 同优先级按入队先后 FIFO；高优先级永远先被准入
// - 已开始的任务不可抢占：取消/停止只作用于未开始的条目
// - 单个任务失败只影响它自己的 future，不影响兄弟任务
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultConcurrency = 32
	DefaultHistory     = 1000
)

// ErrStopped 表示队列处于停止状态：新提交被立即拒绝；未开始的条目被清空。
var ErrStopped = errors.New("queue: 已停止，拒绝提交")

// ErrCancelled 表示条目在被准入之前被 CancelWhere/Stop 取消。
var ErrCancelled = errors.New("queue: 条目在开始前被取消")

// TimeoutError 表示条目在 enqueue 超时之前未被准入。
// 已开始的条目对该超时免疫。
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("queue: 入队等待超过 %s 仍未被准入", e.Timeout)
}

// TaskFunc 是一个可失败的工作单元。ctx 由闭包捕获方决定（队列不注入）。
type TaskFunc func() (any, error)

// Options 是队列的显式配置（字段逐一校验，不接受 option bag）。
type Options struct {
	// Concurrency 是准入池大小；0 表示 DefaultConcurrency。
	Concurrency int
	// History 是保留的最近结果条数（仅用于观测，不参与正确性）；0 表示 DefaultHistory。
	History int
}

// Stats 是队列的即时快照。
type Stats struct {
	Queued    int
	Running   int
	Completed int
	Failed    int
	Stopped   bool
}

// Result 是一次任务结算的记录（history 窗口用）。
type Result struct {
	ID    uuid.UUID
	Value any
	Err   error
}

// Task 是一次提交的 future：Wait 阻塞到结算或 ctx 取消。
type Task struct {
	id   uuid.UUID
	done chan struct{}

	// val/err 仅在 close(done) 之前写入一次，此后只读。
	val any
	err error
}

func (t *Task) ID() uuid.UUID { return t.id }

// Wait 等待任务结算。ctx 取消只影响等待方，不影响任务本身。
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const (
	statePending = iota
	stateStarted
	stateCancelled
)

type entry struct {
	id         uuid.UUID
	fn         TaskFunc
	priority   int
	seq        uint64
	enqueuedAt time.Time

	state int
	task  *Task
	timer *time.Timer // 入队超时；准入时停止

	index int // heap 内部位置
}

// PendingInfo 是暴露给 CancelWhere 谓词的只读视图。
type PendingInfo struct {
	ID         uuid.UUID
	Priority   int
	EnqueuedAt time.Time
}

// Queue 是有界并发调度器。所有字段都由 mu 保护。
type Queue struct {
	mu sync.Mutex

	concurrency int
	historyMax  int

	pending   entryHeap
	seq       uint64
	running   int
	completed int
	failed    int
	stopped   bool

	history []Result
}

func New(opts Options) (*Queue, error) {
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.History == 0 {
		opts.History = DefaultHistory
	}
	if opts.Concurrency < 1 {
		return nil, fmt.Errorf("queue: concurrency 必须 >= 1，实际是 %d", opts.Concurrency)
	}
	if opts.History < 1 {
		return nil, fmt.Errorf("queue: history 必须 >= 1，实际是 %d", opts.History)
	}
	return &Queue{
		concurrency: opts.Concurrency,
		historyMax:  opts.History,
	}, nil
}

// SubmitOptions 控制单次提交的优先级与入队超时（0 表示不超时）。
type SubmitOptions struct {
	Priority       int
	EnqueueTimeout time.Duration
}

// Submit 入队一个任务并返回其 future。队列已停止时立即返回 ErrStopped。
func (q *Queue) Submit(fn TaskFunc, opts SubmitOptions) (*Task, error) {
	if fn == nil {
		return nil, errors.New("queue: task 不能为空")
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}

	q.seq++
	e := &entry{
		id:         uuid.New(),
		fn:         fn,
		priority:   opts.Priority,
		seq:        q.seq,
		enqueuedAt: time.Now(),
		state:      statePending,
		task:       &Task{done: make(chan struct{})},
	}
	e.task.id = e.id
	heap.Push(&q.pending, e)

	if opts.EnqueueTimeout > 0 {
		timeout := opts.EnqueueTimeout
		e.timer = time.AfterFunc(timeout, func() {
			q.expireEntry(e, timeout)
		})
	}

	q.dispatchLocked()
	q.mu.Unlock()
	return e.task, nil
}

// SubmitAll 提交一批任务并等待全部结算。
//
// 语义（与逐个 Submit+Wait 的区别仅在聚合方式）：
// - 任何一个任务失败，聚合错误取第一个出现的失败
// - 失败不取消兄弟任务：所有已提交任务都运行到结算
// - 提交本身失败（队列已停止）视为系统性错误，直接返回
func (q *Queue) SubmitAll(fns []TaskFunc, opts SubmitOptions) ([]Result, error) {
	tasks := make([]*Task, 0, len(fns))
	for _, fn := range fns {
		t, err := q.Submit(fn, opts)
		if err != nil {
			// 已提交的任务继续运行；这里只等它们结算完再返回系统性错误。
			for _, t2 := range tasks {
				_, _ = t2.Wait(context.Background())
			}
			return nil, err
		}
		tasks = append(tasks, t)
	}

	results := make([]Result, len(tasks))
	var firstErr error
	for i, t := range tasks {
		v, err := t.Wait(context.Background())
		results[i] = Result{ID: t.ID(), Value: v, Err: err}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

// CancelWhere 取消所有满足谓词的「未开始」条目，返回取消数量。
// 正在运行的条目不受影响（没有任何抢占机制）。
func (q *Queue) CancelWhere(pred func(PendingInfo) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	// 先收集再删除：heap.Remove 会移动元素，不能边遍历边删。
	victims := make([]*entry, 0)
	for _, e := range q.pending {
		if pred(PendingInfo{ID: e.id, Priority: e.priority, EnqueuedAt: e.enqueuedAt}) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		q.removeLocked(e, ErrCancelled)
	}
	return len(victims)
}

// Stop 拒绝所有未开始的条目并清空待处理列表，随后拒绝新提交直到 Resume。
// 已准入的任务继续运行到结算。
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	for len(q.pending) > 0 {
		q.removeLocked(q.pending[0], ErrStopped)
	}
}

// Resume 解除停止状态，重新接受提交。
func (q *Queue) Resume() {
	q.mu.Lock()
	q.stopped = false
	q.dispatchLocked()
	q.mu.Unlock()
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    len(q.pending),
		Running:   q.running,
		Completed: q.completed,
		Failed:    q.failed,
		Stopped:   q.stopped,
	}
}

// Recent 返回最近结算记录的副本（最多 history 条；仅观测用途）。
func (q *Queue) Recent() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Result, len(q.history))
	copy(out, q.history)
	return out
}

// expireEntry 由入队超时定时器触发：条目仍未开始 => 超时取消。
func (q *Queue) expireEntry(e *entry, timeout time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.state != statePending {
		return // 已开始/已取消：对超时免疫
	}
	q.removeLocked(e, &TimeoutError{Timeout: timeout})
}

// removeLocked 把一个 pending 条目移出堆并以 err 结算其 future。
// 前置条件：持有 q.mu 且 e.state == statePending。
func (q *Queue) removeLocked(e *entry, err error) {
	e.state = stateCancelled
	if e.timer != nil {
		e.timer.Stop()
	}
	heap.Remove(&q.pending, e.index)
	e.task.err = err
	close(e.task.done)
}

// dispatchLocked 在有空闲槽位时准入优先级最高、入队最早的 pending 条目。
// 每次提交之后、每个槽位释放之后都会调用。
func (q *Queue) dispatchLocked() {
	for q.running < q.concurrency && len(q.pending) > 0 {
		e := heap.Pop(&q.pending).(*entry)
		e.state = stateStarted
		if e.timer != nil {
			e.timer.Stop()
		}
		q.running++
		go q.runEntry(e)
	}
}

func (q *Queue) runEntry(e *entry) {
	v, err := e.fn()

	q.mu.Lock()
	q.running--
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.history = append(q.history, Result{ID: e.id, Value: v, Err: err})
	if n := len(q.history) - q.historyMax; n > 0 {
		q.history = q.history[n:]
	}
	q.dispatchLocked()
	q.mu.Unlock()

	e.task.val = v
	e.task.err = err
	close(e.task.done)
}

// entryHeap：priority 大者优先；同优先级 seq 小者（更早入队）优先。
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
