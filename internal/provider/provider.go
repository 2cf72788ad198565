// Package provider 把“站点变化”限制在本包及其子包内部；
// 核心流程只依赖统一接口与稳定的 MovieMeta。
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

// Provider 是单个元数据站点的抓取 + 解析实现。
//
// 约束：
// - Fetch 不做缓存、不做重试、不做限速（由上层 http/cache 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - pageURL 必须是详情页（用于 NFO <website> 与 report 追溯）
type Provider interface {
	Name() string
	Fetch(ctx context.Context, id domain.Code, c *http.Client) (html []byte, pageURL string, err error)
	Parse(id domain.Code, html []byte, pageURL string) (domain.MovieMeta, error)
}

// Registry 是 provider 的只读注册表，保留注册顺序（回退链按此顺序）。
type Registry struct {
	order  []string
	byName map[string]Provider
}

func NewRegistry(providers ...Provider) (Registry, error) {
	byName := make(map[string]Provider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("provider 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("provider.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = p
		order = append(order, name)
	}
	return Registry{order: order, byName: byName}, nil
}

func (r Registry) Get(name string) (Provider, bool) {
	if r.byName == nil {
		return nil, false
	}
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// FallbackOrder 返回以 requested 开头、其余按注册顺序排列的 provider 名单。
func (r Registry) FallbackOrder(requested string) ([]string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if _, ok := r.byName[requested]; !ok {
		return nil, fmt.Errorf("未知 provider：%q", requested)
	}
	out := make([]string, 0, len(r.order))
	out = append(out, requested)
	for _, name := range r.order {
		if name != requested {
			out = append(out, name)
		}
	}
	return out, nil
}
