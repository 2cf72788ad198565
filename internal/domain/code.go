package domain

import (
	"regexp"
	"strings"
)

// Code 是条目的唯一标识。规范形态形如 CAWD-895；
// 无法规范化的文件名退化为清洗后的文件名本身（见 code.Extract）。
type Code string

var codeRE = regexp.MustCompile(`^[A-Z]{2,6}-[0-9]{2,5}$`)

// ParseCode 校验并解析规范化后的 CODE 字符串。
// 输入必须已经是大写 + '-' 分隔的形态。
func ParseCode(s string) (Code, bool) {
	s = strings.TrimSpace(s)
	if !codeRE.MatchString(s) {
		return "", false
	}
	return Code(s), true
}
