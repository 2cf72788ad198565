package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释回退/降级原因）。
// 这是内部执行轨迹，不直接写入 report（由上层决定如何呈现）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// FetchParse 按“requested -> 其余注册顺序”的回退链抓取并解析元数据。
//
// 返回值：
// - meta：成功解析的结构化元数据（Website 已填入详情页 URL）
// - providerUsed：最终成功的 provider name
// - attempts：尝试链路（成功时最后一项 Stage=="ok"）
func FetchParse(ctx context.Context, reg Registry, requested string, id domain.Code, c *http.Client) (meta domain.MovieMeta, providerUsed string, attempts []Attempt, err error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return domain.MovieMeta{}, "", nil, fmt.Errorf("provider 不能为空")
	}
	if id == "" {
		return domain.MovieMeta{}, "", nil, fmt.Errorf("标识不能为空")
	}

	order, err := reg.FallbackOrder(requested)
	if err != nil {
		return domain.MovieMeta{}, "", nil, err
	}

	var lastErr error
	for _, name := range order {
		// 调用方已取消：不再尝试下一个 provider。
		if cerr := ctx.Err(); cerr != nil {
			return domain.MovieMeta{}, "", attempts, cerr
		}

		p, _ := reg.Get(name)

		h, pageURL, ferr := p.Fetch(ctx, id, c)
		if ferr != nil {
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			continue
		}

		m, perr := p.Parse(id, h, pageURL)
		if perr != nil {
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		m.Website = pageURL
		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return m, name, attempts, nil
	}
	return domain.MovieMeta{}, "", attempts, lastErr
}
