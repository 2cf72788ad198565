package run

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/John-Robertt/video-scanner/internal/config"
	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/provider"
	"github.com/John-Robertt/video-scanner/internal/retry"
)

type stubProvider struct {
	fanart string
}

func (stubProvider) Name() string { return "javbus" }

func (s stubProvider) Fetch(ctx context.Context, id domain.Code, c *http.Client) ([]byte, string, error) {
	return []byte("<html>"), "https://stub.test/" + string(id), nil
}

func (s stubProvider) Parse(id domain.Code, html []byte, pageURL string) (domain.MovieMeta, error) {
	return domain.MovieMeta{
		Code:      id,
		Title:     "标题",
		Release:   "2025-11-27",
		Website:   pageURL,
		CoverURL:  s.fanart,
		FanartURL: s.fanart,
	}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return buf.Bytes()
}

func baseConfig(root string, apply bool) config.EffectiveConfig {
	p := retry.Profile{MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0}
	return config.EffectiveConfig{
		Path:         root,
		Provider:     "javbus",
		Apply:        apply,
		SafeDelete:   false,
		Concurrency:  4,
		History:      100,
		NetworkRetry: p,
		LocalRetry:   p,
		CacheEntries: 16,
		CacheTTL:     time.Hour,
	}
}

func registryWith(t *testing.T, p provider.Provider) provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry(p)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return reg
}

func itemByCode(t *testing.T, rr domain.RunReport, code string) domain.ItemResult {
	t.Helper()
	for _, it := range rr.Items {
		if it.Code == code {
			return it
		}
	}
	t.Fatalf("报告中没有条目 %s：%+v", code, rr.Items)
	return domain.ItemResult{}
}

func TestExecuteApplySuccess(t *testing.T) {
	root := t.TempDir()
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	t.Cleanup(srv.Close)

	if err := os.WriteFile(filepath.Join(root, "ABC-123.mp4"), []byte("v"), 0o644); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	rr := Execute(context.Background(), baseConfig(root, true), registryWith(t, stubProvider{fanart: srv.URL + "/f.jpg"}))

	if rr.Summary.Processed != 1 || rr.Summary.Failed != 0 {
		t.Fatalf("期望 summary processed=1，实际 %+v", rr.Summary)
	}
	it := itemByCode(t, rr, "ABC-123")
	if it.Status != domain.StatusProcessed || it.Provider != "javbus" {
		t.Fatalf("期望条目成功，实际 %+v", it)
	}
	if it.Src != "ABC-123.mp4" || it.Dst != filepath.Join("out", "ABC-123", "ABC-123.mp4") {
		t.Fatalf("期望相对路径 src/dst，实际 %q %q", it.Src, it.Dst)
	}

	destDir := filepath.Join(root, "out", "ABC-123")
	for _, name := range []string{"ABC-123.nfo", "fanart.jpg", "poster.jpg", "ABC-123.mp4"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Fatalf("期望产物 %s 存在：%v", name, err)
		}
	}
}

func TestExecuteImageFailureLeavesSourceIntact(t *testing.T) {
	root := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	src := filepath.Join(root, "XYZ-999.mkv")
	if err := os.WriteFile(src, []byte("v"), 0o644); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	rr := Execute(context.Background(), baseConfig(root, true), registryWith(t, stubProvider{fanart: srv.URL + "/f.jpg"}))

	it := itemByCode(t, rr, "XYZ-999")
	if it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeRetryExhausted {
		t.Fatalf("期望 failed/retry_exhausted，实际 %+v", it)
	}
	// 补偿后：目标目录不存在，源文件仍在原位。
	if _, err := os.Stat(filepath.Join(root, "out", "XYZ-999")); !os.IsNotExist(err) {
		t.Fatalf("期望目标目录被移除，实际 %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("期望源文件完好：%v", err)
	}
	if rr.Summary.Failed != 1 {
		t.Fatalf("期望 summary failed=1，实际 %+v", rr.Summary)
	}
}

func TestExecuteDryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "ABC-123.mp4"), []byte("v"), 0o644); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	rr := Execute(context.Background(), baseConfig(root, false), registryWith(t, stubProvider{fanart: "https://img.test/f.jpg"}))

	if !rr.DryRun {
		t.Fatalf("期望 dry_run=true")
	}
	it := itemByCode(t, rr, "ABC-123")
	if it.Status != domain.StatusProcessed || it.Website == "" {
		t.Fatalf("期望验证通过且带 website，实际 %+v", it)
	}
	if _, err := os.Stat(filepath.Join(root, "out")); !os.IsNotExist(err) {
		t.Fatalf("试运行不应创建 out/")
	}
	if _, err := os.Stat(filepath.Join(root, "ABC-123.mp4")); err != nil {
		t.Fatalf("期望源文件仍在：%v", err)
	}
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	root := t.TempDir()
	other := flock.New(filepath.Join(root, LockFileName))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("预置锁失败：%v", err)
	}
	defer func() { _ = other.Unlock() }()

	rr := Execute(context.Background(), baseConfig(root, false), registryWith(t, stubProvider{}))
	if len(rr.Items) != 1 || rr.Items[0].Status != domain.StatusFailed {
		t.Fatalf("期望单条失败条目，实际 %+v", rr.Items)
	}
	if rr.Items[0].ErrorCode != domain.ErrCodeIOFailed {
		t.Fatalf("期望 io_failed，实际 %q", rr.Items[0].ErrorCode)
	}
}

func TestExecuteReportIsStableAndSorted(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"b ZZZ-999.mp4", "a ABC-123.mp4"} {
		if err := os.WriteFile(filepath.Join(root, n), []byte("v"), 0o644); err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
	}

	rr := Execute(context.Background(), baseConfig(root, false), registryWith(t, stubProvider{}))
	if len(rr.Items) != 2 {
		t.Fatalf("期望 2 条目，实际 %d", len(rr.Items))
	}
	if rr.Items[0].Code != "ABC-123" || rr.Items[1].Code != "ZZZ-999" {
		t.Fatalf("期望按 code 排序，实际 %q %q", rr.Items[0].Code, rr.Items[1].Code)
	}
	if rr.StartedAt.Location() != time.UTC || rr.FinishedAt.Location() != time.UTC {
		t.Fatalf("期望 UTC 时间")
	}
}
