// Package code 从文件名中提取条目标识。
//
// Extract 是全函数：任何输入都产出一个非空标识。
// 能匹配番号模式的输入规范化为 "ABC-123" 形态；
// 匹配不到的输入退化为清洗后的文件名本身，保证条目照样能进入流水线。
package code

import (
	"regexp"
	"strings"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

// 番号形态：2-6 个字母 + 分隔（-、_、.、空白，可省略）+ 2-5 位数字。
var patternRE = regexp.MustCompile(`(?i)\b([a-z]{2,6})[\s._-]*([0-9]{2,5})\b`)

// 清洗退化标识时剔除的字符：保留字母、数字与少量安全分隔符。
var unsafeRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Extract 从去掉扩展名的文件名中得出条目标识。
//
// 优先取第一个番号匹配并规范化为大写 + '-' 分隔；
// 没有匹配时，返回清洗后的原文件名（非法字符折叠为 '-'，
// 去掉首尾分隔符）。输入完全不可用时返回 "unknown"。
func Extract(base string) domain.Code {
	if m := patternRE.FindStringSubmatch(base); m != nil {
		normalized := strings.ToUpper(m[1]) + "-" + m[2]
		if c, ok := domain.ParseCode(normalized); ok {
			return c
		}
	}
	return fallback(base)
}

func fallback(base string) domain.Code {
	s := unsafeRE.ReplaceAllString(base, "-")
	s = strings.Trim(s, "-._ ")
	if s == "" {
		return domain.Code("unknown")
	}
	return domain.Code(s)
}
