// Package javdb 实现 JavDB 的页面抓取与 HTML 解析。
package javdb

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/provider"
)

// Provider 先搜索再进入详情页（JavDB 不能直接拼详情 URL）。
//
// 约束：
// - Fetch/Parse 不做缓存/重试/限速（由上层统一控制）
// - Parse 必须是纯函数（只依赖输入 html + pageURL）
type Provider struct {
	// BaseURL 允许指定可用域名（例如 javdb565.com），绕过区域不可达。
	// 为空时使用默认的 https://javdb.com。
	BaseURL string
}

func (Provider) Name() string { return "javdb" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://javdb.com"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 走两跳：/search?q=<ID>&f=all 找到匹配项，再进详情页。
// 搜索结果中没有完全匹配的标识时返回 NotFoundError。
func (p Provider) Fetch(ctx context.Context, id domain.Code, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if id == "" {
		return nil, "", errors.New("标识不能为空")
	}

	base := p.baseURL()
	searchURL := base + "/search?q=" + url.QueryEscape(string(id)) + "&f=all"
	searchHTML, err := provider.FetchHTML(ctx, c, "javdb", searchURL)
	if err != nil {
		return nil, "", err
	}

	href, err := detailHref(searchHTML, id)
	if err != nil {
		return nil, "", err
	}

	pageURL := provider.ResolveURL(base+"/", href)
	b, err := provider.FetchHTML(ctx, c, "javdb", pageURL)
	return b, pageURL, err
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

	// 标题优先取原标题（origin-title；display:none 不影响 Text()），
	// 不存在时回退当前显示的 current-title。
	title := provider.NormSpace(doc.Find("h2.title span.origin-title").First().Text())
	if title == "" {
		title = provider.NormSpace(doc.Find("h2.title strong.current-title").First().Text())
	}

	var (
		release  string
		runtimeM int
		studio   string
		series   string
		actors   []string
		tags     []string
	)
	doc.Find("nav.movie-panel-info .panel-block").Each(func(_ int, s *goquery.Selection) {
		switch provider.NormHeader(s.Find("strong").First().Text()) {
		case "日期", "Date":
			release = strings.TrimSpace(s.Find("span.value").First().Text())
		case "時長", "时长", "Length", "Duration":
			runtimeM = provider.FirstInt(s.Find("span.value").First().Text())
		case "片商", "Maker", "Studio", "Manufacturer", "Label":
			studio = strings.TrimSpace(s.Find("span.value a").First().Text())
		case "系列", "Series":
			series = strings.TrimSpace(s.Find("span.value a").First().Text())
		case "演員", "演员", "Actor", "Actors", "Actress", "Cast":
			s.Find("span.value a").Each(func(_ int, a *goquery.Selection) {
				actors = append(actors, strings.TrimSpace(a.Text()))
			})
		case "類別", "类别", "Tag", "Tags", "Genre", "Genres", "Category", "Categories":
			s.Find("span.value a").Each(func(_ int, a *goquery.Selection) {
				tags = append(tags, strings.TrimSpace(a.Text()))
			})
		}
	})
	tags = provider.NormList(tags)

	coverURL := ""
	if href, ok := doc.Find(".column-video-cover a[data-fancybox='gallery']").First().Attr("href"); ok {
		coverURL = strings.TrimSpace(href)
	}
	if coverURL == "" {
		if src, ok := doc.Find(".column-video-cover img.video-cover").First().Attr("src"); ok {
			coverURL = strings.TrimSpace(src)
		}
	}

	return domain.MovieMeta{
		Code:     id,
		Title:    title,
		Studio:   studio,
		Series:   series,
		Release:  release,
		Year:     provider.YearFromRelease(release),
		RuntimeM: runtimeM,
		Actors:   provider.NormList(actors),
		Genres:   tags,
		Tags:     tags,
		Website:  strings.TrimSpace(pageURL),
		CoverURL: coverURL,
		// 无单独背景图时 fanart 复用 cover，poster 由右半边裁切得到。
		FanartURL: coverURL,
	}, nil
}

// detailHref 在搜索结果中找标识完全匹配（忽略大小写）的条目链接。
func detailHref(searchHTML []byte, id domain.Code) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(searchHTML))
	if err != nil {
		return "", err
	}

	want := strings.ToUpper(string(id))
	var href string
	doc.Find("div.movie-list div.item a.box").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		got := strings.ToUpper(strings.TrimSpace(s.Find("div.video-title strong").First().Text()))
		if got != want {
			return true
		}
		href, _ = s.Attr("href")
		return false
	})
	if strings.TrimSpace(href) == "" {
		return "", &provider.NotFoundError{Provider: "javdb", ID: want}
	}
	return href, nil
}
