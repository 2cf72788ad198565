// Package pipeline 实现单个条目的处理状态机：
//
//	Init -> MetadataResolved -> DirCreated -> NfoWritten -> CoversSaved -> FileMoved -> Done
//
// DirCreated 之后的任何失败都会触发补偿：已搬迁的文件移回原位、
// 已写入的产物删除、由本次运行创建的目标目录整体移除。
// 补偿自身的失败只记录步骤事件，绝不掩盖原始错误。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/infra/cache"
	"github.com/John-Robertt/video-scanner/internal/infra/fsx"
	"github.com/John-Robertt/video-scanner/internal/infra/httpx"
	"github.com/John-Robertt/video-scanner/internal/infra/imgx"
	"github.com/John-Robertt/video-scanner/internal/nfo"
	"github.com/John-Robertt/video-scanner/internal/provider"
	"github.com/John-Robertt/video-scanner/internal/retry"
	"github.com/John-Robertt/video-scanner/internal/steplog"
)

// 步骤名：与状态机状态一一对应，出现在步骤事件与错误信息中。
const (
	StepResolveMeta = "resolve_meta"
	StepMakeDir     = "make_dir"
	StepWriteNfo    = "write_nfo"
	StepSaveCovers  = "save_covers"
	StepMoveFile    = "move_file"
	StepRollback    = "rollback"
)

// Deps 是流水线的全部依赖，均由调用方注入。
type Deps struct {
	Registry  provider.Registry
	Requested string // 首选 provider name

	MetaClient  *http.Client
	ImageClient *http.Client

	Cache *cache.Cache

	NetworkRetry retry.Profile
	LocalRetry   retry.Profile

	// OutDir 是成品根目录（<root>/out）；每个条目落到 OutDir/<ID>/。
	OutDir string

	Overwrite  bool
	SafeDelete bool

	// Apply=false 为试运行：只做元数据解析与校验，不产生任何写入。
	Apply bool

	Steps steplog.Recorder
}

// Pipeline 对单个条目执行完整处理。实例无条目级状态，可被多个 goroutine 并发使用。
type Pipeline struct {
	d Deps
}

func New(d Deps) (*Pipeline, error) {
	if d.MetaClient == nil {
		return nil, errors.New("pipeline: MetaClient 不能为空")
	}
	if d.Cache == nil {
		return nil, errors.New("pipeline: Cache 不能为空")
	}
	if d.Apply {
		if d.ImageClient == nil {
			return nil, errors.New("pipeline: apply 模式需要 ImageClient")
		}
		if d.OutDir == "" {
			return nil, errors.New("pipeline: apply 模式需要 OutDir")
		}
	}
	if d.Steps == nil {
		d.Steps = steplog.Nop{}
	}
	return &Pipeline{d: d}, nil
}

// cachedMeta 是元数据缓存条目的 JSON 形态。
type cachedMeta struct {
	Provider string           `json:"provider"`
	Meta     domain.MovieMeta `json:"meta"`
}

// undo 记录补偿所需的最小状态。
type undo struct {
	destDir    string
	createdDir bool     // 目录由本次运行创建（预先存在的目录回滚时不整体删除）
	wrote      []string // 本次运行写入的产物（绝对路径）
	movedFrom  string   // 文件已搬迁：原始位置
	movedTo    string   // 文件已搬迁：当前落点
}

// Process 执行完整状态机并产出不可变结果。失败的条目绝不让批次中断：
// 所有错误都折叠进 PipelineResult。
func (p *Pipeline) Process(ctx context.Context, taskID uuid.UUID, item domain.WorkItem) domain.PipelineResult {
	res := domain.PipelineResult{ID: item.ID, Source: item.SourceRel}

	meta, used, err := p.resolveMeta(ctx, taskID, item)
	if err != nil {
		return p.fail(res, err)
	}
	res.Provider = used
	res.Website = meta.Website

	if !p.d.Apply {
		// 试运行到此为止：验证通过即成功，不做任何写入。
		res.Success = true
		return res
	}

	u := &undo{destDir: filepath.Join(p.d.OutDir, string(item.ID))}
	res.DestDir = u.destDir

	steps := []struct {
		name string
		fn   func(context.Context, domain.WorkItem, domain.MovieMeta, *undo) error
	}{
		{StepMakeDir, p.makeDir},
		{StepWriteNfo, p.writeNfo},
		{StepSaveCovers, p.saveCovers},
		{StepMoveFile, p.moveFile},
	}
	for _, s := range steps {
		p.d.Steps.Step(taskID, string(item.ID), s.name, steplog.StatusStart, "")
		if err := s.fn(ctx, item, meta, u); err != nil {
			p.d.Steps.Step(taskID, string(item.ID), s.name, steplog.StatusFailed, err.Error())
			p.rollback(taskID, item, u)
			return p.fail(res, &stepError{Step: s.name, Err: err})
		}
		p.d.Steps.Step(taskID, string(item.ID), s.name, steplog.StatusOK, "")
	}

	res.Success = true
	res.DestPath = u.movedTo
	return res
}

func (p *Pipeline) fail(res domain.PipelineResult, err error) domain.PipelineResult {
	res.Success = false
	res.DestDir = ""
	res.DestPath = ""
	res.ErrorCode = Classify(err)
	res.ErrorMsg = err.Error()
	return res
}

// resolveMeta 先查缓存（按首选 provider + 标识），未命中才经网络重试档走
// provider 回退链；singleflight 保证同一标识并发解析只打一次网络。
func (p *Pipeline) resolveMeta(ctx context.Context, taskID uuid.UUID, item domain.WorkItem) (domain.MovieMeta, string, error) {
	p.d.Steps.Step(taskID, string(item.ID), StepResolveMeta, steplog.StatusStart, "")

	key := metaKey(p.d.Requested, item.ID)
	fetch := func(ctx context.Context) ([]byte, error) {
		var out cachedMeta
		err := retry.Do(ctx, p.d.NetworkRetry, func(ctx context.Context) error {
			m, used, _, err := provider.FetchParse(ctx, p.d.Registry, p.d.Requested, item.ID, p.d.MetaClient)
			if err != nil {
				var nf *provider.NotFoundError
				if errors.As(err, &nf) {
					// 站点明确没有该条目：重试不会改变结果。
					return retry.Permanent(err)
				}
				return err
			}
			out = cachedMeta{Provider: used, Meta: m}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}

	var b []byte
	var err error
	if p.d.Apply {
		b, err = p.d.Cache.Resolve(ctx, key, cache.EntryOptions{}, fetch)
	} else {
		// 试运行不写缓存：命中则用，未命中只取数据。
		var ok bool
		b, ok, err = p.d.Cache.Get(key, cache.EntryOptions{})
		if err == nil && !ok {
			b, err = fetch(ctx)
		}
	}
	if err != nil {
		p.d.Steps.Step(taskID, string(item.ID), StepResolveMeta, steplog.StatusFailed, err.Error())
		return domain.MovieMeta{}, "", err
	}

	var cm cachedMeta
	if uerr := json.Unmarshal(b, &cm); uerr != nil {
		p.d.Steps.Step(taskID, string(item.ID), StepResolveMeta, steplog.StatusFailed, uerr.Error())
		return domain.MovieMeta{}, "", fmt.Errorf("缓存条目损坏：%w", uerr)
	}
	p.d.Steps.Step(taskID, string(item.ID), StepResolveMeta, steplog.StatusOK, "provider="+cm.Provider)
	return cm.Meta, cm.Provider, nil
}

func metaKey(requested string, id domain.Code) string {
	return "meta/" + requested + "/" + string(id)
}

func (p *Pipeline) makeDir(_ context.Context, _ domain.WorkItem, _ domain.MovieMeta, u *undo) error {
	fi, err := os.Stat(u.destDir)
	switch {
	case err == nil && fi.IsDir():
		return nil // 已存在 = 满足；回滚时不整体删除
	case err == nil:
		return &fsx.PathTypeConflictError{Path: u.destDir, Want: "dir", Got: "file"}
	case !os.IsNotExist(err):
		return err
	}
	if err := os.MkdirAll(u.destDir, 0o755); err != nil {
		return err
	}
	u.createdDir = true
	return nil
}

func (p *Pipeline) writeNfo(ctx context.Context, _ domain.WorkItem, meta domain.MovieMeta, u *undo) error {
	// 路径必须从 nfo 的命名规则推导（<Code>.nfo），与 Write 的落盘名保持一致。
	path := filepath.Join(u.destDir, nfo.FileName(meta))
	if fileExists(path) && !p.d.Overwrite {
		return nil // 已存在 = 满足
	}
	return retry.Do(ctx, p.d.LocalRetry, func(context.Context) error {
		if _, err := nfo.Write(u.destDir, meta, true); err != nil {
			return err
		}
		u.wrote = append(u.wrote, path)
		return nil
	})
}

// saveCovers 逐产物幂等：fanart.jpg 与 poster.jpg 均已存在时整步跳过；
// 只缺 poster 时从磁盘上的 fanart 重新派生，不再打网络。
func (p *Pipeline) saveCovers(ctx context.Context, item domain.WorkItem, meta domain.MovieMeta, u *undo) error {
	fanartPath := filepath.Join(u.destDir, nfo.FanartName)
	posterPath := filepath.Join(u.destDir, nfo.PosterName)
	if fileExists(fanartPath) && fileExists(posterPath) {
		return nil
	}

	var fanart []byte
	if fileExists(fanartPath) {
		b, err := os.ReadFile(fanartPath)
		if err != nil {
			return err
		}
		fanart = b
	} else {
		if meta.FanartURL == "" {
			return &provider.Error{Provider: p.d.Requested, Stage: "fetch", Err: errors.New("元数据缺少 fanart URL")}
		}
		b, err := retry.DoValue(ctx, p.d.NetworkRetry, func(ctx context.Context) ([]byte, error) {
			return httpx.DownloadImage(ctx, p.d.ImageClient, meta.FanartURL, meta.Website)
		})
		if err != nil {
			return err
		}
		fanart = b
		if err := p.writeArtifact(ctx, u, fanartPath, fanart); err != nil {
			return err
		}
	}

	if !fileExists(posterPath) {
		poster, err := imgx.PosterFromFanart(fanart)
		if err != nil {
			return err
		}
		if err := p.writeArtifact(ctx, u, posterPath, poster); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) writeArtifact(ctx context.Context, u *undo, path string, data []byte) error {
	return retry.Do(ctx, p.d.LocalRetry, func(context.Context) error {
		if err := fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), data); err != nil {
			return err
		}
		u.wrote = append(u.wrote, path)
		return nil
	})
}

// relocateFunc 经包级变量注入，测试用它模拟瞬时搬迁失败。
var relocateFunc = fsx.Relocate

func (p *Pipeline) moveFile(ctx context.Context, item domain.WorkItem, _ domain.MovieMeta, u *undo) error {
	name := filepath.Base(item.SourceAbs)
	dst := filepath.Join(u.destDir, name)
	if !p.d.Overwrite {
		d, err := fsx.AllocDst(u.destDir, name)
		if err != nil {
			return err
		}
		dst = d
	}

	// 落点在重试前固定：跨盘慢路径可能在字节已落到目标之后才失败
	//（处置源文件时），后续尝试必须落回同一路径，而不是再分配 name__2。
	err := retry.Do(ctx, p.d.LocalRetry, func(context.Context) error {
		if fileExists(dst) && !fileExists(item.SourceAbs) {
			return nil // 上一轮已完成落位与源文件处置
		}
		_, err := relocateFunc(item.SourceAbs, u.destDir, fsx.RelocateOptions{
			Overwrite:  true,
			SafeDelete: p.d.SafeDelete,
			NewName:    filepath.Base(dst),
		})
		if fsx.IsPathTypeConflict(err) {
			return retry.Permanent(err) // 类型冲突是确定性失败，重试无意义
		}
		return err
	})
	if err != nil {
		return err
	}
	u.movedFrom = item.SourceAbs
	u.movedTo = dst
	return nil
}

// rollback 逆序补偿：移回文件、删除产物、移除本次创建的目录。
// 任何补偿失败只记录事件，原始错误仍是对外结果。
func (p *Pipeline) rollback(taskID uuid.UUID, item domain.WorkItem, u *undo) {
	id := string(item.ID)
	p.d.Steps.Step(taskID, id, StepRollback, steplog.StatusStart, "")

	if u.movedTo != "" {
		if err := fsx.Rename(u.movedTo, u.movedFrom); err != nil {
			p.d.Steps.Step(taskID, id, StepRollback, steplog.StatusFailed, "移回源文件失败："+err.Error())
		}
	}
	for i := len(u.wrote) - 1; i >= 0; i-- {
		if err := os.Remove(u.wrote[i]); err != nil && !os.IsNotExist(err) {
			p.d.Steps.Step(taskID, id, StepRollback, steplog.StatusFailed, "删除产物失败："+err.Error())
		}
	}
	if u.createdDir {
		if err := os.RemoveAll(u.destDir); err != nil {
			p.d.Steps.Step(taskID, id, StepRollback, steplog.StatusFailed, "移除目标目录失败："+err.Error())
			return
		}
	}
	p.d.Steps.Step(taskID, id, StepRollback, steplog.StatusOK, "")
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// stepError 标注错误发生在哪个步骤，供错误归类与 error_msg 追溯。
type stepError struct {
	Step string
	Err  error
}

func (e *stepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *stepError) Unwrap() error { return e.Err }

// Classify 把任意错误折叠为稳定的 error_code。
// 顺序即优先级：取消 > 确定性缺失 > 重试耗尽 > 阶段性错误 > 搬迁 > I/O。
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var interrupted *retry.InterruptedError
	if errors.As(err, &interrupted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrCodeInterrupted
	}

	var nf *provider.NotFoundError
	if errors.As(err, &nf) {
		return domain.ErrCodeNotFound
	}

	if retry.IsExhausted(err) {
		return domain.ErrCodeRetryExhausted
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		if pe.Stage == "parse" {
			return domain.ErrCodeParseFailed
		}
		return domain.ErrCodeFetchFailed
	}

	if fsx.IsPathTypeConflict(err) {
		return domain.ErrCodeTargetConflict
	}

	var se *stepError
	if errors.As(err, &se) && se.Step == StepMoveFile {
		return domain.ErrCodeMoveFailed
	}

	return domain.ErrCodeIOFailed
}
