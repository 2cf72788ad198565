package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type flakyTransport struct {
	fails int32
	base  http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&f.fails, -1) >= 0 {
		return nil, errors.New("network down")
	}
	return f.base.RoundTrip(req)
}

func TestTransportSetsRandomUA(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	t.Cleanup(srv.Close)

	c, err := NewMetaClient("")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if got == "" {
		t.Fatalf("期望注入 User-Agent，实际为空")
	}
}

func TestTransportRetriesNetworkErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	t.Cleanup(srv.Close)

	// 前两次传输失败，第三次成功。
	c := &http.Client{Transport: &Transport{
		Base:     &flakyTransport{fails: 2, base: &http.Transport{}},
		ua:       globalUA,
		RetryMax: 2,
	}}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("期望最终到达服务端 1 次，实际 %d", hits)
	}
}

func TestTransportExhaustsRetries(t *testing.T) {
	c := &http.Client{Transport: &Transport{
		Base:     &flakyTransport{fails: 99, base: &http.Transport{}},
		ua:       globalUA,
		RetryMax: 1,
	}}
	if _, err := c.Get("http://example.invalid/"); err == nil {
		t.Fatalf("期望重试耗尽后报错")
	}
}

func TestNewImageClientRequiresProxyWhenEnabled(t *testing.T) {
	if _, err := NewImageClient("", true); err == nil {
		t.Fatalf("期望 image_proxy=true 且无代理时报错")
	}
	if _, err := NewImageClient("", false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
}

func TestDownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fakejpegdata"))
	}))
	t.Cleanup(srv.Close)

	b, err := DownloadImage(context.Background(), srv.Client(), srv.URL+"/x.jpg", "")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if string(b) != "fakejpegdata" {
		t.Fatalf("期望图片字节，实际 %q", b)
	}
}

func TestDownloadImageRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	if _, err := DownloadImage(context.Background(), srv.Client(), srv.URL+"/x.jpg", ""); err == nil {
		t.Fatalf("期望非 2xx 状态报错")
	}
}

func TestIsJavbusURL(t *testing.T) {
	cases := map[string]bool{
		"https://www.javbus.com/pics/a.jpg": true,
		"https://javbus.com/pics/a.jpg":     true,
		"https://img.example.com/a.jpg":     false,
	}
	for u, want := range cases {
		if got := isJavbusURL(u); got != want {
			t.Fatalf("isJavbusURL(%q)：期望 %v，实际 %v", u, want, got)
		}
	}
}
