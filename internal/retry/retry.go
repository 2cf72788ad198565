package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Profile 描述一类操作的重试参数（显式字段，不用 option bag）。
//
// 约束：
// - MaxAttempts >= 1（含首次尝试）
// - BaseDelay/MaxDelay >= 0
// 违反约束在首次尝试之前就失败（InvalidConfigError）。
type Profile struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OpID 只用于错误信息与事件记录的可追溯性，不参与控制流。
	OpID string
}

func (p Profile) validate() error {
	if p.MaxAttempts < 1 {
		return &InvalidConfigError{Op: p.OpID, Reason: fmt.Sprintf("max_attempts 必须 >= 1，实际是 %d", p.MaxAttempts)}
	}
	if p.BaseDelay < 0 {
		return &InvalidConfigError{Op: p.OpID, Reason: fmt.Sprintf("base_delay 必须 >= 0，实际是 %s", p.BaseDelay)}
	}
	if p.MaxDelay < 0 {
		return &InvalidConfigError{Op: p.OpID, Reason: fmt.Sprintf("max_delay 必须 >= 0，实际是 %s", p.MaxDelay)}
	}
	return nil
}

// Delay 返回第 attempt 次失败后的退避时长：min(base * 2^attempt, max)。
// attempt 从 0 开始计数；溢出一律按 MaxDelay 处理。
func (p Profile) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	// 左移超过 62 位必然溢出；直接饱和到 MaxDelay。
	if attempt >= 62 {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// InvalidConfigError 表示 Profile 参数非法（setup 阶段致命，不做任何尝试）。
type InvalidConfigError struct {
	Op     string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	if e.Op == "" {
		return "retry 参数非法：" + e.Reason
	}
	return fmt.Sprintf("retry 参数非法（op=%s）：%s", e.Op, e.Reason)
}

// InterruptedError 表示退避等待期间 ctx 被取消：操作立即失败，不再继续重试。
type InterruptedError struct {
	Op  string
	Err error // ctx.Err()
}

func (e *InterruptedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("重试等待被中断：%v", e.Err)
	}
	return fmt.Sprintf("重试等待被中断（op=%s）：%v", e.Op, e.Err)
}

func (e *InterruptedError) Unwrap() error { return e.Err }

// ExhaustedError 表示全部尝试均失败。携带尝试次数与最后一次错误。
type ExhaustedError struct {
	Op       string
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("重试 %d 次后仍失败：%v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("%s 重试 %d 次后仍失败：%v", e.Op, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// PermanentError 标记一个确定性失败：重试不可能改变结果（例如站点明确 404）。
// Do 遇到它立即停止，并原样返回被包装的错误。
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent 把 err 标记为不可重试。nil 原样返回。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsInterrupted 判断 err 是否为退避中断。
func IsInterrupted(err error) bool {
	var e *InterruptedError
	return errors.As(err, &e)
}

// IsExhausted 判断 err 是否为重试耗尽。
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// 可替换的睡眠函数：测试用它消除真实等待。
var sleepFunc = sleepCtx

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// 零退避也要检查取消，保证 ctx 已死时不再发起下一次尝试。
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do 以 Profile 的参数执行 op：失败则指数退避后重试，直到成功、耗尽或被取消。
//
// 取消语义（协作式）：
// - 退避等待 select ctx.Done()，ctx 取消 => 立即返回 InterruptedError
// - op 自身应接受 ctx 并自行尽快退出；Do 不会抢占正在执行的 op
func Do(ctx context.Context, p Profile, op func(ctx context.Context) error) error {
	if err := p.validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &InterruptedError{Op: p.OpID, Err: err}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(lastErr, &pe) {
			return pe.Err
		}

		// 最后一次尝试失败：不再退避，直接耗尽。
		if attempt == p.MaxAttempts-1 {
			break
		}

		if err := sleepFunc(ctx, p.Delay(attempt)); err != nil {
			return &InterruptedError{Op: p.OpID, Err: err}
		}
	}
	return &ExhaustedError{Op: p.OpID, Attempts: p.MaxAttempts, LastErr: lastErr}
}

// DoValue 与 Do 相同，但透传 op 的返回值。
func DoValue[T any](ctx context.Context, p Profile, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, e := op(ctx)
		if e != nil {
			return e
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
