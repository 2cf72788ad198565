package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func mustNew(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return c
}

func TestNew_ValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("期望 dir 校验失败，但得到 nil")
	}
	if _, err := New(Options{Dir: t.TempDir(), MemoryEntries: -1}); err == nil {
		t.Fatalf("期望 memory_entries 校验失败，但得到 nil")
	}
}

func TestGetSet_MemoryAndDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := mustNew(t, Options{Dir: dir})

	if err := c.Set("CAWD-895", []byte(`{"title":"T"}`), EntryOptions{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	v, ok, err := c.Get("CAWD-895", EntryOptions{})
	if err != nil || !ok {
		t.Fatalf("期望命中：ok=%v err=%v", ok, err)
	}
	if string(v) != `{"title":"T"}` {
		t.Fatalf("内容不一致：%q", string(v))
	}

	// 磁盘文件名必须是摘要主干。
	if _, err := os.Stat(filepath.Join(dir, Digest("CAWD-895")+".json")); err != nil {
		t.Fatalf("期望磁盘条目存在，但 Stat 失败：%v", err)
	}

	if _, ok, _ := c.Get("NOPE-000", EntryOptions{}); ok {
		t.Fatalf("不存在的 key 不应命中")
	}
}

func TestGet_DiskHitPromotesToMemory(t *testing.T) {
	dir := t.TempDir()
	c1 := mustNew(t, Options{Dir: dir})
	if err := c1.Set("ABC-123", []byte("v"), EntryOptions{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// 新进程视角：内存层为空，只有磁盘层（恢复权威）。
	c2 := mustNew(t, Options{Dir: dir})
	v, ok, err := c2.Get("ABC-123", EntryOptions{})
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("磁盘层未命中：v=%q ok=%v err=%v", v, ok, err)
	}

	// 提升后应从内存层直接命中（删掉磁盘文件来证明）。
	if err := os.Remove(filepath.Join(dir, Digest("ABC-123")+".json")); err != nil {
		t.Fatalf("删除磁盘条目失败：%v", err)
	}
	if _, ok, _ := c2.Get("ABC-123", EntryOptions{}); !ok {
		t.Fatalf("期望内存层命中（已提升），但未命中")
	}
}

func TestLRU_EvictsLeastRecentlyTouched(t *testing.T) {
	c := mustNew(t, Options{Dir: t.TempDir(), MemoryEntries: 2})

	if err := c.Set("a", []byte("1"), EntryOptions{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := c.Set("b", []byte("2"), EntryOptions{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// get 命中刷新 a 的新近度；随后插入 c 应淘汰 b。
	if _, ok, _ := c.Get("a", EntryOptions{}); !ok {
		t.Fatalf("期望命中 a")
	}
	if err := c.Set("c", []byte("3"), EntryOptions{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	c.mu.Lock()
	_, hasA := c.items[Digest("a")]
	_, hasB := c.items[Digest("b")]
	_, hasC := c.items[Digest("c")]
	n := c.lru.Len()
	c.mu.Unlock()

	if n != 2 {
		t.Fatalf("内存层超出上限：len=%d", n)
	}
	if !hasA || hasB || !hasC {
		t.Fatalf("淘汰目标错误：a=%v b=%v c=%v（应淘汰 b）", hasA, hasB, hasC)
	}
}

func TestExpiry_NeverReturnsExpired(t *testing.T) {
	dir := t.TempDir()
	c := mustNew(t, Options{Dir: dir})

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	old := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = old }()

	if err := c.Set("k", []byte("v"), EntryOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// T-ε：可取。
	now = base.Add(time.Minute - time.Second)
	if _, ok, _ := c.Get("k", EntryOptions{}); !ok {
		t.Fatalf("未过期条目应命中")
	}

	// T+ε：内存与磁盘都不得返回。
	now = base.Add(time.Minute + time.Second)
	if _, ok, _ := c.Get("k", EntryOptions{}); ok {
		t.Fatalf("过期条目不允许返回")
	}
	if _, err := os.Stat(filepath.Join(dir, Digest("k")+".json")); !os.IsNotExist(err) {
		t.Fatalf("过期磁盘条目应被惰性删除，Stat err=%v", err)
	}
}

func TestCleanup_SweepsExpiredAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	c := mustNew(t, Options{Dir: dir})

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	old := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = old }()

	if err := c.Set("fresh", []byte("1"), EntryOptions{TTL: time.Hour}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := c.Set("stale", []byte("2"), EntryOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("写入坏条目失败：%v", err)
	}

	now = base.Add(30 * time.Minute)
	if err := c.Cleanup(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, Digest("fresh")+".json")); err != nil {
		t.Fatalf("未过期条目不应被清扫：%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, Digest("stale")+".json")); !os.IsNotExist(err) {
		t.Fatalf("过期条目应被清扫，Stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "garbage.json")); !os.IsNotExist(err) {
		t.Fatalf("坏条目应被清扫，Stat err=%v", err)
	}
}

func TestResolve_FetchOnceUnderConcurrency(t *testing.T) {
	c := mustNew(t, Options{Dir: t.TempDir()})

	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond) // 放大并发窗口
		return []byte("meta"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Resolve(context.Background(), "SAME-001", EntryOptions{}, fetch)
			if err != nil || string(v) != "meta" {
				t.Errorf("Resolve 失败：v=%q err=%v", v, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("并发 Resolve 应只取数一次，实际 %d 次", calls)
	}

	// 命中后再 Resolve 也不应再次取数。
	if _, err := c.Resolve(context.Background(), "SAME-001", EntryOptions{}, fetch); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if calls != 1 {
		t.Fatalf("缓存命中后不应再取数，实际 %d 次", calls)
	}
}

func TestResolve_FetchErrorPropagates(t *testing.T) {
	c := mustNew(t, Options{Dir: t.TempDir()})

	boom := errors.New("network down")
	_, err := c.Resolve(context.Background(), "k", EntryOptions{}, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望透传 fetch 错误，实际：%v", err)
	}
	if _, ok, _ := c.Get("k", EntryOptions{}); ok {
		t.Fatalf("失败的取数不应写缓存")
	}
}
