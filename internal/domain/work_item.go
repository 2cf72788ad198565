package domain

// WorkItem 是一次批处理的最小工作单元：一个视频文件 + 它的标识符。
//
// 不变量：
// - 同一次 run 内，WorkItem 只被一个 pipeline 任务独占处理，不跨任务共享
// - SourceAbs 必须是 clean + absolute
type WorkItem struct {
	ID        Code
	SourceAbs string
	SourceRel string
}
