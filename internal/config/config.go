package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/video-scanner/internal/retry"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 vscan.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultProvider 是 provider 的最终默认值（当 CLI 与配置文件都未指定时）。
	DefaultProvider = "javbus"

	// DefaultConcurrency 是准入池大小的内置默认值。
	DefaultConcurrency = 32
	// MaxConcurrency 是准入池大小的上限（超出直接判非法，不做静默截断）。
	MaxConcurrency = 128
	// DefaultHistory 是队列观测窗口的默认条数。
	DefaultHistory = 1000
	// MaxHistory 是队列观测窗口的上限。
	MaxHistory = 100000

	// DefaultCacheEntries 是内存缓存层的默认条目上限。
	DefaultCacheEntries = 512
	// MaxCacheEntries 是内存缓存层的条目上限。
	MaxCacheEntries = 100000
	// DefaultCacheTTL 是缓存条目的默认寿命。
	DefaultCacheTTL = 720 * time.Hour
)

// 网络调用与本地 I/O 的重试画像默认值：网络退避更长、尝试更多。
var (
	DefaultNetworkRetry = retry.Profile{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second}
	DefaultLocalRetry   = retry.Profile{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
)

// CLIArgs 只包含 CLI 暴露的三项入口（path/provider/apply），并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Provider    string
	ProviderSet bool

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 vscan.json 的解析结构。
// 每个小节都是显式字段：默认值与合法范围见 merge 中的校验。
type FileConfig struct {
	Path        string       `json:"path"`
	Provider    string       `json:"provider"`
	Apply       *bool        `json:"apply"`
	Proxy       *ProxyConfig `json:"proxy"`
	ImageProxy  bool         `json:"image_proxy"`
	ExcludeDirs []string     `json:"exclude_dirs"`

	Overwrite  bool  `json:"overwrite"`
	SafeDelete *bool `json:"safe_delete"`

	Queue *QueueConfig `json:"queue"`
	Retry *RetryConfig `json:"retry"`
	Cache *CacheConfig `json:"cache"`

	JavDBBaseURL string `json:"javdb_base_url"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

type QueueConfig struct {
	Concurrency     int `json:"concurrency"`
	EnqueueTimeoutS int `json:"enqueue_timeout_s"`
	History         int `json:"history"`
}

type RetryConfig struct {
	Network *RetryProfileConfig `json:"network"`
	Local   *RetryProfileConfig `json:"local"`
}

type RetryProfileConfig struct {
	MaxAttempts int `json:"max_attempts"`
	BaseDelayMS int `json:"base_delay_ms"`
	MaxDelayMS  int `json:"max_delay_ms"`
}

type CacheConfig struct {
	MemoryEntries int `json:"memory_entries"`
	DefaultTTLH   int `json:"default_ttl_h"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string

	Provider string
	Apply    bool

	ProxyURL    string
	ImageProxy  bool
	ExcludeDirs []string

	Overwrite  bool
	SafeDelete bool

	Concurrency    int
	EnqueueTimeout time.Duration
	History        int

	NetworkRetry retry.Profile
	LocalRetry   retry.Profile

	CacheEntries int
	CacheTTL     time.Duration

	// JavDBBaseURL 允许在 javdb.com 不可达/被阻断时切换到可用镜像域名（可选）。
	// 该字段属于高级能力，仅通过 vscan.json 配置，不暴露 CLI 参数。
	JavDBBaseURL string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/vscan.json（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/vscan.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path
// - provider：CLI > config > 默认 javbus
// - apply：CLI --apply/--apply=false > config > 默认 false
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/vscan.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, "vscan.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/vscan.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "vscan.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	bad := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// provider：CLI > config > 默认
	provider := DefaultProvider
	if cli.ProviderSet {
		provider = cli.Provider
	} else if strings.TrimSpace(fc.Provider) != "" {
		provider = fc.Provider
	}
	if err := validateProvider(provider); err != nil {
		return bad(err)
	}

	// apply：CLI > config > 默认 false
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return bad(fmt.Errorf("proxy.url 无效：%w", err))
		}
	}
	if fc.ImageProxy && proxyURL == "" {
		return bad(fmt.Errorf("image_proxy=true 但 proxy.url 为空"))
	}

	safeDelete := true
	if fc.SafeDelete != nil {
		safeDelete = *fc.SafeDelete
	}

	// queue：逐字段校验；0 表示用默认值。
	concurrency := DefaultConcurrency
	enqueueTimeout := time.Duration(0)
	history := DefaultHistory
	if fc.Queue != nil {
		if fc.Queue.Concurrency != 0 {
			concurrency = fc.Queue.Concurrency
		}
		if fc.Queue.History != 0 {
			history = fc.Queue.History
		}
		if fc.Queue.EnqueueTimeoutS < 0 {
			return bad(fmt.Errorf("queue.enqueue_timeout_s 必须 >= 0，实际是 %d", fc.Queue.EnqueueTimeoutS))
		}
		enqueueTimeout = time.Duration(fc.Queue.EnqueueTimeoutS) * time.Second
	}
	if concurrency < 1 || concurrency > MaxConcurrency {
		return bad(fmt.Errorf("queue.concurrency 必须在 [1, %d]，实际是 %d", MaxConcurrency, concurrency))
	}
	if history < 1 || history > MaxHistory {
		return bad(fmt.Errorf("queue.history 必须在 [1, %d]，实际是 %d", MaxHistory, history))
	}

	networkRetry := DefaultNetworkRetry
	localRetry := DefaultLocalRetry
	if fc.Retry != nil {
		var err error
		if networkRetry, err = mergeRetryProfile("retry.network", fc.Retry.Network, DefaultNetworkRetry); err != nil {
			return bad(err)
		}
		if localRetry, err = mergeRetryProfile("retry.local", fc.Retry.Local, DefaultLocalRetry); err != nil {
			return bad(err)
		}
	}

	cacheEntries := DefaultCacheEntries
	cacheTTL := DefaultCacheTTL
	if fc.Cache != nil {
		if fc.Cache.MemoryEntries != 0 {
			cacheEntries = fc.Cache.MemoryEntries
		}
		if fc.Cache.DefaultTTLH < 0 {
			return bad(fmt.Errorf("cache.default_ttl_h 必须 > 0，实际是 %d", fc.Cache.DefaultTTLH))
		}
		if fc.Cache.DefaultTTLH > 0 {
			cacheTTL = time.Duration(fc.Cache.DefaultTTLH) * time.Hour
		}
	}
	if cacheEntries < 1 || cacheEntries > MaxCacheEntries {
		return bad(fmt.Errorf("cache.memory_entries 必须在 [1, %d]，实际是 %d", MaxCacheEntries, cacheEntries))
	}

	javdbBaseURL := strings.TrimSpace(fc.JavDBBaseURL)
	if javdbBaseURL != "" {
		u, err := url.Parse(javdbBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return bad(fmt.Errorf("javdb_base_url 无效：%q", javdbBaseURL))
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return bad(fmt.Errorf("javdb_base_url 必须是 http/https：%q", javdbBaseURL))
		}
	}

	return EffectiveConfig{
		Path:           absPath,
		Provider:       provider,
		Apply:          apply,
		ProxyURL:       proxyURL,
		ImageProxy:     fc.ImageProxy,
		ExcludeDirs:    append([]string(nil), fc.ExcludeDirs...),
		Overwrite:      fc.Overwrite,
		SafeDelete:     safeDelete,
		Concurrency:    concurrency,
		EnqueueTimeout: enqueueTimeout,
		History:        history,
		NetworkRetry:   networkRetry,
		LocalRetry:     localRetry,
		CacheEntries:   cacheEntries,
		CacheTTL:       cacheTTL,
		JavDBBaseURL:   javdbBaseURL,
	}, nil
}

func mergeRetryProfile(name string, c *RetryProfileConfig, def retry.Profile) (retry.Profile, error) {
	p := def
	if c == nil {
		return p, nil
	}
	if c.MaxAttempts != 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMS != 0 {
		p.BaseDelay = time.Duration(c.BaseDelayMS) * time.Millisecond
	}
	if c.MaxDelayMS != 0 {
		p.MaxDelay = time.Duration(c.MaxDelayMS) * time.Millisecond
	}
	if p.MaxAttempts < 1 {
		return retry.Profile{}, fmt.Errorf("%s.max_attempts 必须 >= 1，实际是 %d", name, p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return retry.Profile{}, fmt.Errorf("%s 延迟必须 >= 0", name)
	}
	return p, nil
}

func validateProvider(p string) error {
	switch p {
	case "javbus", "javdb":
		return nil
	case "":
		return fmt.Errorf("provider 不能为空")
	default:
		return fmt.Errorf("provider 只能是 javbus 或 javdb，实际是 %q", p)
	}
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
