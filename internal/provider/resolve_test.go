package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

type fakeProvider struct {
	name     string
	fetchErr error
	parseErr error
	title    string
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, id domain.Code, c *http.Client) ([]byte, string, error) {
	f.calls++
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	return []byte("<html>"), "https://" + f.name + ".test/" + string(id), nil
}

func (f *fakeProvider) Parse(id domain.Code, html []byte, pageURL string) (domain.MovieMeta, error) {
	if f.parseErr != nil {
		return domain.MovieMeta{}, f.parseErr
	}
	return domain.MovieMeta{Code: id, Title: f.title}, nil
}

func TestFetchParseUsesRequestedFirst(t *testing.T) {
	a := &fakeProvider{name: "a", title: "from-a"}
	b := &fakeProvider{name: "b", title: "from-b"}
	reg, err := NewRegistry(a, b)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	meta, used, attempts, err := FetchParse(context.Background(), reg, "b", "ABC-123", http.DefaultClient)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if used != "b" || meta.Title != "from-b" {
		t.Fatalf("期望使用 b，实际 used=%q title=%q", used, meta.Title)
	}
	if a.calls != 0 {
		t.Fatalf("期望 a 未被调用，实际 %d 次", a.calls)
	}
	if len(attempts) != 1 || attempts[0].Stage != "ok" {
		t.Fatalf("期望单次 ok 尝试，实际 %+v", attempts)
	}
	if meta.Website == "" {
		t.Fatalf("期望 Website 填入详情页 URL")
	}
}

func TestFetchParseFallsBackOnFetchError(t *testing.T) {
	a := &fakeProvider{name: "a", fetchErr: errors.New("boom")}
	b := &fakeProvider{name: "b", title: "from-b"}
	reg, _ := NewRegistry(a, b)

	meta, used, attempts, err := FetchParse(context.Background(), reg, "a", "ABC-123", http.DefaultClient)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if used != "b" || meta.Title != "from-b" {
		t.Fatalf("期望回退到 b，实际 used=%q", used)
	}
	if len(attempts) != 2 || attempts[0].Stage != "fetch" || attempts[1].Stage != "ok" {
		t.Fatalf("期望 fetch 失败 + ok，实际 %+v", attempts)
	}
}

func TestFetchParseAllFailReturnsLastTypedError(t *testing.T) {
	sentinel := errors.New("parse boom")
	a := &fakeProvider{name: "a", fetchErr: errors.New("fetch boom")}
	b := &fakeProvider{name: "b", parseErr: sentinel}
	reg, _ := NewRegistry(a, b)

	_, _, attempts, err := FetchParse(context.Background(), reg, "a", "ABC-123", http.DefaultClient)
	if err == nil {
		t.Fatalf("期望错误，实际 nil")
	}
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("期望 *provider.Error，实际 %T", err)
	}
	if pe.Provider != "b" || pe.Stage != "parse" {
		t.Fatalf("期望最后一次失败为 b/parse，实际 %s/%s", pe.Provider, pe.Stage)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("期望 Unwrap 到原始错误")
	}
	if len(attempts) != 2 {
		t.Fatalf("期望 2 次尝试，实际 %d", len(attempts))
	}
}

func TestFetchParseStopsOnContextCancel(t *testing.T) {
	a := &fakeProvider{name: "a"}
	reg, _ := NewRegistry(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := FetchParse(ctx, reg, "a", "ABC-123", http.DefaultClient)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	if a.calls != 0 {
		t.Fatalf("期望取消后不再调用 provider，实际 %d 次", a.calls)
	}
}

func TestFetchParseUnknownProvider(t *testing.T) {
	a := &fakeProvider{name: "a"}
	reg, _ := NewRegistry(a)
	if _, _, _, err := FetchParse(context.Background(), reg, "nope", "ABC-123", http.DefaultClient); err == nil {
		t.Fatalf("期望未知 provider 报错")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(&fakeProvider{name: "a"}, &fakeProvider{name: "A "}); err == nil {
		t.Fatalf("期望重复注册报错")
	}
}

func TestFallbackOrderKeepsRegistrationOrder(t *testing.T) {
	reg, _ := NewRegistry(&fakeProvider{name: "a"}, &fakeProvider{name: "b"}, &fakeProvider{name: "c"})
	order, err := reg.FallbackOrder("b")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("期望 %v，实际 %v", want, order)
		}
	}
}
