// Package cache 提供两级结果缓存：进程内有界 LRU + 磁盘持久层。
//
// 约束：
// - key 经 SHA-256 摘要后同时作为内存 map 键与磁盘文件名（碰撞视为可忽略）
// - 过期条目永远不返回：访问时惰性删除，Cleanup 时主动清扫
// - 内存层严格有界：满时淘汰最久未触达的 key（get 命中与 set 都会刷新新近度）
// - 磁盘写入一律临时文件 + 原子 rename，崩溃不会留下可见的坏条目
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/video-scanner/internal/infra/fsx"
)

const (
	DefaultMemoryEntries = 512
	DefaultTTL           = 720 * time.Hour
)

// 可替换的时钟：测试用它模拟过期，不做真实等待。
var timeNow = time.Now

// Options 是缓存的显式配置。
type Options struct {
	// Dir 是持久层目录（必填；不存在则创建）。
	Dir string
	// MemoryEntries 是内存层条目上限；0 表示 DefaultMemoryEntries。
	MemoryEntries int
	// DefaultTTL 是条目未指定 max-age 时的默认寿命；0 表示 DefaultTTL。
	DefaultTTL time.Duration
}

// EntryOptions 允许单条覆盖 max-age（0 表示用缓存默认值）。
type EntryOptions struct {
	TTL time.Duration
}

type memEntry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// envelope 是磁盘条目的文件格式（JSON）。
type envelope struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
	MaxAgeMS int64     `json:"max_age_ms,omitempty"`
}

// Cache 是并发安全的两级缓存。
// 内存层的 map 与 LRU 链表在同一把锁的临界区内成对更新；
// 不同 key 的磁盘 I/O 在锁外进行，可以并发。
type Cache struct {
	dir        string
	maxEntries int
	defaultTTL time.Duration

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front = 最近触达

	group singleflight.Group
}

func New(opts Options) (*Cache, error) {
	dir := filepath.Clean(strings.TrimSpace(opts.Dir))
	if dir == "" || dir == "." {
		return nil, fmt.Errorf("cache: dir 不能为空")
	}
	if opts.MemoryEntries == 0 {
		opts.MemoryEntries = DefaultMemoryEntries
	}
	if opts.MemoryEntries < 1 {
		return nil, fmt.Errorf("cache: memory_entries 必须 >= 1，实际是 %d", opts.MemoryEntries)
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("cache: default_ttl 必须 > 0，实际是 %s", opts.DefaultTTL)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: 创建目录失败：%w", err)
	}
	return &Cache{
		dir:        dir,
		maxEntries: opts.MemoryEntries,
		defaultTTL: opts.DefaultTTL,
		items:      make(map[string]*list.Element, opts.MemoryEntries),
		lru:        list.New(),
	}, nil
}

// Digest 返回 key 的十六进制摘要（也是磁盘文件名主干）。
func Digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) filePath(digest string) string {
	return filepath.Join(c.dir, digest+".json")
}

func (c *Cache) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.defaultTTL
}

func (c *Cache) expired(storedAt time.Time, ttl time.Duration) bool {
	return timeNow().Sub(storedAt) > c.effectiveTTL(ttl)
}

// Get 按「内存 -> 磁盘」顺序查找。磁盘命中会把条目提升到内存层。
// 未命中或已过期返回 (nil, false, nil)。
func (c *Cache) Get(key string, opts EntryOptions) ([]byte, bool, error) {
	digest := Digest(key)

	c.mu.Lock()
	if el, ok := c.items[digest]; ok {
		me := el.Value.(*memEntry)
		if c.expired(me.storedAt, pickTTL(opts.TTL, me.ttl)) {
			// 惰性删除：过期条目当场清出内存层。
			c.lru.Remove(el)
			delete(c.items, digest)
		} else {
			c.lru.MoveToFront(el)
			v := me.value
			c.mu.Unlock()
			return v, true, nil
		}
	}
	c.mu.Unlock()

	// 磁盘层：锁外读取，不同 key 并发互不阻塞。
	env, ok, err := c.readFile(digest)
	if err != nil || !ok {
		return nil, false, err
	}
	ttl := time.Duration(env.MaxAgeMS) * time.Millisecond
	if c.expired(env.StoredAt, pickTTL(opts.TTL, ttl)) {
		// 过期文件就地删除（失败不影响语义，Cleanup 会再扫）。
		_ = os.Remove(c.filePath(digest))
		return nil, false, nil
	}

	c.promote(digest, env.Value, env.StoredAt, ttl)
	return env.Value, true, nil
}

// Set 写入两级缓存。内存层满时淘汰最久未触达的 key。
func (c *Cache) Set(key string, value []byte, opts EntryOptions) error {
	digest := Digest(key)
	now := timeNow()

	c.promote(digest, value, now, opts.TTL)

	env := envelope{
		Value:    value,
		StoredAt: now,
		MaxAgeMS: int64(opts.TTL / time.Millisecond),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(c.dir, digest+".json", b)
}

// Cleanup 清扫磁盘层的过期条目。无法解析的文件一并删除（视为坏条目）。
func (c *Cache) Cleanup() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			_ = os.Remove(path)
			continue
		}
		ttl := time.Duration(env.MaxAgeMS) * time.Millisecond
		if c.expired(env.StoredAt, ttl) {
			_ = os.Remove(path)
		}
	}
	return nil
}

// Resolve 是 get-or-fetch 的组合操作：未命中时调用 fetch 并写回两级缓存。
// 同一 key 的并发 Resolve 经 singleflight 合并为恰好一次 fetch。
func (c *Cache) Resolve(ctx context.Context, key string, opts EntryOptions, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, err := c.Get(key, opts); err == nil && ok {
		return v, nil
	}

	v, err, _ := c.group.Do(Digest(key), func() (any, error) {
		// double-check：排队期间可能已有人写入。
		if v, ok, err := c.Get(key, opts); err == nil && ok {
			return v, nil
		}
		b, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, b, opts); err != nil {
			// 缓存写失败降级为“本次不缓存”，不拖垮取数本身。
			return b, nil
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// promote 把条目放到内存层最前面，必要时淘汰队尾。
func (c *Cache) promote(digest string, value []byte, storedAt time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[digest]; ok {
		me := el.Value.(*memEntry)
		me.value = value
		me.storedAt = storedAt
		me.ttl = ttl
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&memEntry{key: digest, value: value, storedAt: storedAt, ttl: ttl})
	c.items[digest] = el

	for c.lru.Len() > c.maxEntries {
		tail := c.lru.Back()
		if tail == nil {
			break
		}
		c.lru.Remove(tail)
		delete(c.items, tail.Value.(*memEntry).key)
	}
}

func (c *Cache) readFile(digest string) (envelope, bool, error) {
	b, err := os.ReadFile(c.filePath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		// 坏条目：忽略并删除，等价于未命中。
		_ = os.Remove(c.filePath(digest))
		return envelope{}, false, nil
	}
	return env, true, nil
}

// pickTTL：调用点覆盖优先，其次条目自身的 max-age，都为 0 则走缓存默认。
func pickTTL(override, own time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return own
}
