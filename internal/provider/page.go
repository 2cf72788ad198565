package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FetchHTML 拉取一个页面并做统一的状态码归类：
// 404 映射为 NotFoundError，其余非 2xx 映射为 HTTPStatusError。
func FetchHTML(ctx context.Context, c *http.Client, name string, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Provider: name, ID: u}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errors.New("empty response body")
	}
	return b, nil
}

// ResolveURL 把页面内的相对 href 解析成绝对 URL；解析失败时原样返回。
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}

// NormSpace 折叠空白（含全角空格被 Fields 处理的情况）。
func NormSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

// NormHeader 折叠空白并去掉信息栏 header 尾部的冒号（半角/全角）。
func NormHeader(s string) string {
	s = NormSpace(s)
	s = strings.TrimSuffix(s, ":")
	s = strings.TrimSuffix(s, "：")
	return strings.TrimSpace(s)
}

// NormList 去空白、去重，保持输入顺序。
func NormList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// FirstInt 提取字符串中第一段连续数字（“155分鐘 / 160 分鍾”之类无需完整解析）。
func FirstInt(s string) int {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

// YearFromRelease 从 ISO 日期（2006-01-02）取年份；非法输入返回 0。
func YearFromRelease(release string) int {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(release))
	if err != nil {
		return 0
	}
	return t.Year()
}
