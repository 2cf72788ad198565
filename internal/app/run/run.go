// Package run 是一次完整运行的编排层：加锁、扫描、建条目、批处理、出报告。
package run

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/John-Robertt/video-scanner/internal/app/batch"
	"github.com/John-Robertt/video-scanner/internal/app/pipeline"
	"github.com/John-Robertt/video-scanner/internal/code"
	"github.com/John-Robertt/video-scanner/internal/config"
	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/infra/cache"
	"github.com/John-Robertt/video-scanner/internal/infra/httpx"
	"github.com/John-Robertt/video-scanner/internal/provider"
	"github.com/John-Robertt/video-scanner/internal/queue"
	"github.com/John-Robertt/video-scanner/internal/scan"
	"github.com/John-Robertt/video-scanner/internal/steplog"
)

// LockFileName 是扫描根目录下的运行锁文件。
// 同一根目录同时只允许一次运行（否则两个批次会对同一批文件互踩）。
const LockFileName = ".vscan.lock"

// Execute 执行一次运行（dry-run/apply），返回对外稳定的 RunReport。
// 错误尽量降级为条目级失败：单条失败不影响其他条目。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, nil, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许注入 Observer（进度输出）
// 与 steplog.Recorder（步骤级事件）。两者都可为 nil。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, obs Observer, steps steplog.Recorder) domain.RunReport {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}
	if steps == nil {
		steps = steplog.Nop{}
	}

	rr := domain.RunReport{
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 128),
	}
	fail := func(code, msg string) domain.RunReport {
		rr.Items = append(rr.Items, syntheticFailed(code, msg))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	// 运行锁：同一根目录并发运行会导致两个批次移动同一批文件。
	lock := flock.New(filepath.Join(eff.Path, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fail(domain.ErrCodeIOFailed, fmt.Sprintf("获取运行锁失败：%v", err))
	}
	if !locked {
		return fail(domain.ErrCodeIOFailed, "另一个 vscan 正在处理该目录；等它结束后再运行")
	}
	defer func() { _ = lock.Unlock() }()

	metaClient, err := httpx.NewMetaClient(eff.ProxyURL)
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err))
	}
	var imageClient *http.Client
	if eff.Apply {
		imageClient, err = httpx.NewImageClient(eff.ProxyURL, eff.ImageProxy)
		if err != nil {
			return fail(domain.ErrCodeConfigInvalid, err.Error())
		}
	}

	store, err := cache.New(cache.Options{
		Dir:           filepath.Join(eff.Path, "cache"),
		MemoryEntries: eff.CacheEntries,
		DefaultTTL:    eff.CacheTTL,
	})
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, err.Error())
	}

	scanStarted := time.Now()
	files, err := scan.Collect(eff.Path, scan.Options{ExcludeDirs: eff.ExcludeDirs, SkipHidden: true})
	if err != nil {
		return fail(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err))
	}
	items := buildItems(files)
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(files)}, time.Since(scanStarted))
	}

	q, err := queue.New(queue.Options{Concurrency: eff.Concurrency, History: eff.History})
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, err.Error())
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Registry:     reg,
		Requested:    eff.Provider,
		MetaClient:   metaClient,
		ImageClient:  imageClient,
		Cache:        store,
		NetworkRetry: eff.NetworkRetry,
		LocalRetry:   eff.LocalRetry,
		OutDir:       filepath.Join(eff.Path, "out"),
		Overwrite:    eff.Overwrite,
		SafeDelete:   eff.SafeDelete,
		Apply:        eff.Apply,
		Steps:        steps,
	})
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, err.Error())
	}

	proc := &observing{
		pipe:  pipe,
		obs:   obs,
		root:  eff.Path,
		total: len(items),
	}
	coord, err := batch.New(q, proc, batch.Options{EnqueueTimeout: eff.EnqueueTimeout})
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, err.Error())
	}

	execStarted := time.Now()
	results, sysErr := coord.Run(ctx, items)
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers": eff.Concurrency,
			"items":   len(items),
		}, time.Since(execStarted))
	}

	for _, r := range results {
		rr.Items = append(rr.Items, toItemResult(eff.Path, r))
	}
	if sysErr != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeQueueStopped, sysErr.Error()))
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// buildItems 把扫描结果一对一转成 WorkItem。标识提取是全函数：
// 每个文件都能入列，提取失败的文件退化为清洗后的文件名标识。
func buildItems(files []domain.VideoFile) []domain.WorkItem {
	items := make([]domain.WorkItem, 0, len(files))
	for _, f := range files {
		items = append(items, domain.WorkItem{
			ID:        code.Extract(f.Base),
			SourceAbs: f.AbsPath,
			SourceRel: f.RelPath,
		})
	}
	return items
}

// observing 在 Processor 外面包一层逐条目事件（OnItemDone）。
type observing struct {
	pipe  *pipeline.Pipeline
	obs   Observer
	root  string
	total int

	mu   sync.Mutex // 同一时刻可能多条结算；OnItemDone 的 idx 单调
	done int
}

func (o *observing) Process(ctx context.Context, taskID uuid.UUID, item domain.WorkItem) domain.PipelineResult {
	itemStarted := time.Now()
	res := o.pipe.Process(ctx, taskID, item)
	if o.obs != nil {
		o.mu.Lock()
		o.done++
		o.obs.OnItemDone(o.done, o.total, item.ID, toItemResult(o.root, res), time.Since(itemStarted))
		o.mu.Unlock()
	}
	return res
}

// toItemResult 把 PipelineResult 映射成对外呈现形态（路径相对扫描根目录）。
func toItemResult(root string, r domain.PipelineResult) domain.ItemResult {
	out := domain.ItemResult{
		Code:      string(r.ID),
		Provider:  r.Provider,
		Website:   r.Website,
		Status:    domain.StatusProcessed,
		ErrorCode: r.ErrorCode,
		ErrorMsg:  r.ErrorMsg,
		Src:       r.Source,
	}
	if !r.Success {
		out.Status = domain.StatusFailed
	}
	if r.DestPath != "" {
		if rel, err := filepath.Rel(root, r.DestPath); err == nil {
			out.Dst = rel
		} else {
			out.Dst = r.DestPath
		}
	}
	return out
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}
