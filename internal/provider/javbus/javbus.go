// Package javbus 实现 JavBus 的页面抓取与 HTML 解析。
package javbus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/provider"
)

// Provider 直接拼详情页 URL 抓取。
//
// 约束：
// - Fetch/Parse 不做缓存/重试/限速（由上层统一控制）
// - Parse 必须是纯函数（只依赖输入 html + pageURL）
type Provider struct{}

func (Provider) Name() string { return "javbus" }

// Fetch 直接进入详情页：https://www.javbus.com/<ID>
//
// JavBus 在未通过“成年确认”时通常返回 302 到 /doc/driver-verify，
// 但多数情况下 302 的 body 仍是完整详情页 HTML。Go 默认跟随重定向，
// 最终会拿到验证页；因此这里禁用重定向，直接读取 302 的 body。
func (Provider) Fetch(ctx context.Context, id domain.Code, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if id == "" {
		return nil, "", errors.New("标识不能为空")
	}

	pageURL := "https://www.javbus.com/" + url.PathEscape(string(id))
	c2 := *c
	c2.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c2.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	loc := strings.TrimSpace(resp.Header.Get("Location"))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", &provider.NotFoundError{Provider: "javbus", ID: string(id)}
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && strings.Contains(loc, "/doc/driver-verify"):
		// 只有当 body 明确是验证页时才算 blocked；否则解析 302 body（常见且可用）。
		if bytes.Contains(b, []byte(`id="ageVerify"`)) || bytes.Contains(b, []byte("/doc/driver-verify")) {
			return nil, "", &provider.BlockedError{URL: loc, Reason: "driver-verify"}
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 400:
		return nil, "", &provider.HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode, Location: loc}
	}
	if len(b) == 0 {
		return nil, "", errors.New("empty response body")
	}
	return b, pageURL, nil
}

// Parse 把详情页 HTML 解析为最小可用 MovieMeta。
func (Provider) Parse(id domain.Code, html []byte, pageURL string) (domain.MovieMeta, error) {
	if id == "" || len(html) == 0 || strings.TrimSpace(pageURL) == "" {
		return domain.MovieMeta{}, errors.New("非法解析输入")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.MovieMeta{}, err
	}

	// 先校验“是不是详情页”：识别码必须存在且匹配（避免把验证页当成功解析）。
	gotID := strings.TrimSpace(infoValue(doc, "識別碼", "识别码", "ID"))
	if gotID == "" {
		return domain.MovieMeta{}, errors.New("未找到識別碼（疑似返回了验证页/非详情页内容）")
	}
	if !strings.EqualFold(gotID, string(id)) {
		return domain.MovieMeta{}, errors.New("識別碼不匹配（疑似跳转到了其它页面）")
	}

	title := provider.NormSpace(doc.Find("h3").First().Text())
	if title == "" {
		return domain.MovieMeta{}, errors.New("标题为空（疑似返回了验证页/非详情页内容）")
	}
	title = strings.TrimSpace(strings.TrimPrefix(title, string(id)))

	release := infoValue(doc, "發行日期", "发行日期", "Release Date", "発売日")

	// 「發行商」更像对外的厂牌标识；缺失时回退「製作商」。
	studio := infoValue(doc, "發行商", "发行商", "Label", "Publisher")
	if studio == "" {
		studio = infoValue(doc, "製作商", "制作商", "Studio", "Maker", "Manufacturer")
	}
	series := infoValue(doc, "系列", "Series")

	var actors []string
	doc.Find("div.star-name a").Each(func(_ int, s *goquery.Selection) {
		actors = append(actors, strings.TrimSpace(s.Text()))
	})

	tags := keywordTags(doc, id, studio, series)
	if len(tags) == 0 {
		// 兜底：keywords 缺失时回退从 /genre/ 链接提取（可能包含噪音标签）。
		doc.Find("a").Each(func(_ int, s *goquery.Selection) {
			if href, _ := s.Attr("href"); strings.Contains(href, "/genre/") {
				tags = append(tags, strings.TrimSpace(s.Text()))
			}
		})
	}
	tags = provider.NormList(tags)

	coverURL := ""
	if href, ok := doc.Find("a.bigImage").First().Attr("href"); ok {
		coverURL = provider.ResolveURL(pageURL, href)
	}
	if coverURL == "" {
		if src, ok := doc.Find("div.screencap img").First().Attr("src"); ok {
			coverURL = provider.ResolveURL(pageURL, src)
		}
	}

	// fanart 取背景大图（优先 cover），poster 由 fanart 右半边裁切得到。
	fanartURL := coverURL
	if fanartURL == "" {
		if href, ok := doc.Find("#sample-waterfall a.sample-box").First().Attr("href"); ok {
			fanartURL = provider.ResolveURL(pageURL, href)
		}
	}

	return domain.MovieMeta{
		Code:     id,
		Title:    title,
		Studio:   studio,
		Series:   series,
		Release:  release,
		Year:     provider.YearFromRelease(release),
		RuntimeM: provider.FirstInt(infoValue(doc, "長度", "长度", "Length", "時長", "时长", "Duration")),
		Actors:   provider.NormList(actors),
		// JavBus 的「類別」更像标签/分类；同时写入 Genres 与 Tags。
		Genres:    tags,
		Tags:      tags,
		Website:   strings.TrimSpace(pageURL),
		CoverURL:  coverURL,
		FanartURL: fanartURL,
	}, nil
}

// infoValue 在详情页信息栏（div.info 下的 <p>）中按 header 名取值。
func infoValue(doc *goquery.Document, headers ...string) string {
	set := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		set[provider.NormHeader(h)] = struct{}{}
	}

	var out string
	doc.Find("div.movie div.info p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rawHeader := provider.NormSpace(s.Find("span.header").First().Text())
		if _, ok := set[provider.NormHeader(rawHeader)]; !ok {
			return true
		}
		// 该 <p> 里除 header 外可能是 <a>（厂牌/系列）或纯文本（日期/长度）。
		if a := strings.TrimSpace(s.Find("a").First().Text()); a != "" {
			out = a
			return false
		}
		out = strings.TrimSpace(strings.TrimPrefix(provider.NormSpace(s.Text()), rawHeader))
		return false
	})
	return out
}

// keywordTags 从 meta keywords（形如 "ID,Studio,Series,Tag1,Tag2"）提取标签，
// 剔除已知的 id/studio/series，不做其它猜测。
func keywordTags(doc *goquery.Document, id domain.Code, studio, series string) []string {
	content, ok := doc.Find("meta[name='keywords']").First().Attr("content")
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(content, ",") {
		s := strings.TrimSpace(p)
		if s == "" || strings.EqualFold(s, string(id)) || s == studio || s == series {
			continue
		}
		out = append(out, s)
	}
	return provider.NormList(out)
}
