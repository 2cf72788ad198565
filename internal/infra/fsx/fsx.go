package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename（经 renameFunc 以便测试注入）。
func Rename(src, dst string) error {
	return renameFunc(src, dst)
}

// RelocateOptions 控制一次文件搬迁。
type RelocateOptions struct {
	// Overwrite 允许覆盖同名目标；默认不覆盖，冲突时改用 name__N.ext。
	Overwrite bool
	// SafeDelete 在跨盘 copy 成功后不直接删除源文件，而是把它重命名为
	// 同目录下的 .trash-<name>（可人工恢复）。同盘 rename 不受影响。
	SafeDelete bool
	// NewName 覆盖目标文件名；空则沿用源文件名。
	NewName string
}

// Relocate 把 src 移入 dstDir，返回最终落点的绝对路径。
//
// 规则：
// - 同盘：os.Rename（原子）
// - 跨盘（EXDEV）：copy 到 dstDir 内的临时文件 + fsync + rename 到位，
//   然后按 SafeDelete 处置源文件
// - 不覆盖模式下目标重名：分配 name__2.ext、name__3.ext……直到可用
func Relocate(src, dstDir string, opts RelocateOptions) (string, error) {
	src = filepath.Clean(src)
	dstDir = filepath.Clean(dstDir)

	fi, err := os.Lstat(src)
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", &PathTypeConflictError{Path: src, Want: "regular file", Got: fi.Mode().Type().String()}
	}

	name := strings.TrimSpace(opts.NewName)
	if name == "" {
		name = filepath.Base(src)
	}

	dst := filepath.Join(dstDir, name)
	if !opts.Overwrite {
		dst, err = AllocDst(dstDir, name)
		if err != nil {
			return "", err
		}
	} else if fi, err := os.Lstat(dst); err == nil && fi.IsDir() {
		return "", &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}

	if err := renameFunc(src, dst); err != nil {
		if !isEXDEV(err) {
			return "", err
		}
		if err := copyThenDispose(src, dstDir, dst, opts.SafeDelete); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// AllocDst 在 dstDir 下为 name 找一个不存在的目标路径（不覆盖语义，
// 重名时依次尝试 name__2.ext、name__3.ext……）。
// 目标是目录时直接报类型冲突，而不是悄悄换名。
func AllocDst(dstDir, name string) (string, error) {
	cand := filepath.Join(dstDir, name)
	fi, err := os.Lstat(cand)
	if err != nil {
		if os.IsNotExist(err) {
			return cand, nil
		}
		return "", err
	}
	if fi.IsDir() {
		return "", &PathTypeConflictError{Path: cand, Want: "file", Got: "dir"}
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		cand := filepath.Join(dstDir, fmt.Sprintf("%s__%d%s", base, n, ext))
		_, err := os.Lstat(cand)
		if os.IsNotExist(err) {
			return cand, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// copyThenDispose 是跨盘搬迁的慢路径：先把字节安全落到目标盘，再处置源文件。
func copyThenDispose(src, dstDir, dst string, safeDelete bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dstDir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFunc(tmpName, dst); err != nil {
		return err
	}
	_ = syncDirBestEffort(dstDir)

	// 目标已安全落盘；此后源文件的处置失败只能如实上报，不回滚目标。
	if safeDelete {
		trash := filepath.Join(filepath.Dir(src), ".trash-"+filepath.Base(src))
		return renameFunc(src, trash)
	}
	return os.Remove(src)
}

// WriteFileAtomic 在 dir 下原子写入 name（临时文件 + rename）。
//
// 语义：若目标已存在则覆盖（即 replace）。
// sidecar（nfo/poster/fanart）按产品契约“不允许覆盖”，请使用 WriteFileAtomicNoOverwrite。
func WriteFileAtomic(dir, name string, data []byte) error {
	return WriteFileAtomicReplace(dir, name, data)
}

// WriteFileAtomicNoOverwrite 在 dir 下原子写入 name（临时文件 + rename）。
//
// - 临时文件必须与目标文件在同目录，以保证 rename 的原子性
// - fsync 是可选但推荐：我们对临时文件做 Sync；目录 Sync 采用 best-effort
//
// 用于 sidecar 等“不允许覆盖”的文件写入；目标已存在返回 os.ErrExist。
func WriteFileAtomicNoOverwrite(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return os.ErrExist
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeFileAtomic(dir, name, data, 0o644)
}

// WriteFileAtomicReplace 写入并覆盖同名文件（尽量保持原子性；Windows 上为 best-effort）。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644)
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 创建同目录临时文件（前缀带 '.'，避免污染媒体库视图）。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// rename 原子替换到最终文件名。
	if err := renameFunc(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
