// Package steplog 把流水线的「步骤级进度」从控制流中解耦出来。
//
// 约束：
// - Recorder 只是观测口：实现绝不允许阻塞或让调用方失败
// - 并发安全：事件可能来自多个 pipeline goroutine
package steplog

import (
	"log/slog"

	"github.com/google/uuid"
)

const (
	StatusStart   = "start"
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Recorder 记录一次步骤事件。taskID 是队列分配的任务标识，id 是条目标识符。
type Recorder interface {
	Step(taskID uuid.UUID, id string, step string, status string, msg string)
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Step(uuid.UUID, string, string, string, string) {}

// Slog 把步骤事件写入结构化日志（slog.Handler 由调用方决定）。
type Slog struct {
	L *slog.Logger
}

func NewSlog(l *slog.Logger) Slog {
	if l == nil {
		l = slog.Default()
	}
	return Slog{L: l}
}

func (s Slog) Step(taskID uuid.UUID, id string, step string, status string, msg string) {
	// slog 自身并发安全；这里不做任何可能失败/阻塞的事。
	attrs := []any{
		slog.String("task", taskID.String()),
		slog.String("code", id),
		slog.String("step", step),
		slog.String("status", status),
	}
	if msg != "" {
		attrs = append(attrs, slog.String("msg", msg))
	}
	if status == StatusFailed {
		s.L.Warn("step", attrs...)
		return
	}
	s.L.Debug("step", attrs...)
}
