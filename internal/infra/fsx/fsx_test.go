package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomic(dir, "a.txt", []byte("hello")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("内容不一致：%q", string(b))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".a.txt.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_RenameFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	err := WriteFileAtomic(dir, "a.txt", []byte("hello"))
	if err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".a.txt.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
		if e.Name() == "a.txt" {
			t.Fatalf("不应写出最终文件：%q", e.Name())
		}
	}
}

func TestWriteFileAtomicNoOverwrite_TargetConflictDir(t *testing.T) {
	dir := t.TempDir()

	// 目标路径是目录：应返回 PathTypeConflictError，而不是 os.ErrExist。
	if err := os.Mkdir(filepath.Join(dir, "a.txt"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := WriteFileAtomicNoOverwrite(dir, "a.txt", []byte("hello"))
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

func TestWriteFileAtomicNoOverwrite_ExistRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	err := WriteFileAtomicNoOverwrite(dir, "a.txt", []byte("new"))
	if !os.IsExist(err) {
		t.Fatalf("期望 os.ErrExist，实际：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if string(b) != "old" {
		t.Fatalf("不覆盖语义被破坏：%q", string(b))
	}
}

func TestRelocate_SameDeviceRename(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "in", "CAWD-895.mp4")
	dstDir := filepath.Join(root, "out")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	dst, err := Relocate(src, dstDir, RelocateOptions{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if dst != filepath.Join(dstDir, "CAWD-895.mp4") {
		t.Fatalf("落点不符：%q", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("源文件应已移走，Stat err=%v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "video" {
		t.Fatalf("目标内容不符：%q err=%v", b, err)
	}
}

func TestRelocate_CollisionAllocatesSuffix(t *testing.T) {
	root := t.TempDir()
	dstDir := filepath.Join(root, "out")
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, "a.mp4"), []byte("occupied"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	src := filepath.Join(root, "a.mp4")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	dst, err := Relocate(src, dstDir, RelocateOptions{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if filepath.Base(dst) != "a__2.mp4" {
		t.Fatalf("期望分配 a__2.mp4，实际 %q", filepath.Base(dst))
	}
	b, _ := os.ReadFile(filepath.Join(dstDir, "a.mp4"))
	if string(b) != "occupied" {
		t.Fatalf("原有文件不应被覆盖：%q", string(b))
	}
}

func TestRelocate_OverwriteReplaces(t *testing.T) {
	root := t.TempDir()
	dstDir := filepath.Join(root, "out")
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, "a.mp4"), []byte("old"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	src := filepath.Join(root, "a.mp4")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	dst, err := Relocate(src, dstDir, RelocateOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "new" {
		t.Fatalf("overwrite 语义不符：%q", string(b))
	}
}
