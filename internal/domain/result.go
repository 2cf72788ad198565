package domain

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	ErrCodeConfigInvalid  = "config_invalid"
	ErrCodeInterrupted    = "interrupted"
	ErrCodeRetryExhausted = "retry_exhausted"
	ErrCodeNotFound       = "not_found"
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeParseFailed    = "parse_failed"
	ErrCodeIOFailed       = "io_failed"
	ErrCodeMoveFailed     = "move_failed"
	ErrCodeTargetConflict = "target_conflict"
	ErrCodeTimeout        = "timeout"
	ErrCodeQueueStopped   = "queue_stopped"
)

// PipelineResult 是单个 WorkItem 的最终结果。
// 产生后不可变；由 BatchCoordinator 聚合，绝不回写。
type PipelineResult struct {
	ID      Code
	Success bool

	// Source 是条目源文件相对扫描根目录的路径（用于报告追溯）。
	Source string

	// DestDir 仅在成功时非空（out/<ID>/ 的绝对路径）。
	DestDir string
	// DestPath 是视频文件移动后的绝对路径（成功时非空）。
	DestPath string

	Provider string
	Website  string

	ErrorCode string
	ErrorMsg  string
}
