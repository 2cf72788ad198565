//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isEXDEV 判断错误是否为跨文件系统 rename（EXDEV）。
// os.LinkError 实现了 Unwrap，errors.Is 可以直接穿透。
func isEXDEV(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
