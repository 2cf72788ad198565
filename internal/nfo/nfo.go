// Package nfo 生成媒体库（Kodi/Jellyfin/Emby）可读取的描述文件。
package nfo

import (
	"encoding/xml"
	"strings"

	"github.com/John-Robertt/video-scanner/internal/domain"
	"github.com/John-Robertt/video-scanner/internal/infra/fsx"
)

const (
	// DefaultCountry / DefaultMPAA 不对外暴露配置；保持最小但够用。
	DefaultCountry = "JP"
	DefaultMPAA    = "R18+"

	// PosterName / FanartName 是目标目录内的固定封面文件名。
	PosterName = "poster.jpg"
	FanartName = "fanart.jpg"
)

type movie struct {
	XMLName xml.Name `xml:"movie"`

	Title     string `xml:"title"`
	SortTitle string `xml:"sorttitle"`
	Num       string `xml:"num"`

	Studio string `xml:"studio,omitempty"`
	Set    string `xml:"set,omitempty"`

	Release   string `xml:"release,omitempty"`
	Premiered string `xml:"premiered,omitempty"`
	Year      int    `xml:"year,omitempty"`
	Runtime   int    `xml:"runtime,omitempty"`

	MPAA    string `xml:"mpaa,omitempty"`
	Country string `xml:"country,omitempty"`

	Poster string `xml:"poster,omitempty"`
	Thumb  string `xml:"thumb,omitempty"`
	Fanart string `xml:"fanart,omitempty"`

	Rating     int `xml:"rating"`
	UserRating int `xml:"userrating"`
	Votes      int `xml:"votes"`

	Actors []actor  `xml:"actor,omitempty"`
	Tags   []string `xml:"tag,omitempty"`
	Genres []string `xml:"genre,omitempty"`

	Cover   string `xml:"cover,omitempty"`
	Website string `xml:"website,omitempty"`
}

type actor struct {
	Name string `xml:"name"`
	Role string `xml:"role,omitempty"`
}

// Encode 把 MovieMeta 转成 NFO（XML）字节流。
//
// 规则：
// - 字段缺失允许为空；输出结构保持稳定（去空白、去重、保持输入顺序）
// - title 为空时回退到标识，非空时保证以标识开头（利于媒体库展示）
func Encode(meta domain.MovieMeta) ([]byte, error) {
	code := strings.TrimSpace(string(meta.Code))

	m := movie{
		Title:     buildTitle(code, meta.Title),
		SortTitle: code,
		Num:       code,

		Studio: strings.TrimSpace(meta.Studio),
		Set:    strings.TrimSpace(meta.Series),

		Release:   strings.TrimSpace(meta.Release),
		Premiered: strings.TrimSpace(meta.Release),
		Year:      meta.Year,
		Runtime:   meta.RuntimeM,

		MPAA:    DefaultMPAA,
		Country: DefaultCountry,

		Poster: PosterName,
		Thumb:  PosterName,
		Fanart: FanartName,

		Tags:   normList(append(meta.Tags, meta.Actors...)),
		Genres: normList(append(meta.Genres, meta.Actors...)),

		Cover:   strings.TrimSpace(meta.CoverURL),
		Website: strings.TrimSpace(meta.Website),
	}

	for _, a := range normList(meta.Actors) {
		m.Actors = append(m.Actors, actor{Name: a, Role: a})
	}

	b, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	// 输出带 standalone="yes" 的 XML 头，与常见刮削器产物兼容。
	const header = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>` + "\n"
	return append([]byte(header), b...), nil
}

// FileName 返回 meta 对应的描述文件名（<Code>.nfo）。
// 存在性检查与补偿记录必须用它推导路径，保持与 Write 的命名一致。
func FileName(meta domain.MovieMeta) string {
	return string(meta.Code) + ".nfo"
}

// Write 把 meta 编码后原子写入 dir/<Code>.nfo。
// overwrite=false 时目标已存在即失败（同目录临时文件 + rename，不留半成品）。
func Write(dir string, meta domain.MovieMeta, overwrite bool) (string, error) {
	b, err := Encode(meta)
	if err != nil {
		return "", err
	}
	name := FileName(meta)
	if overwrite {
		err = fsx.WriteFileAtomicReplace(dir, name, b)
	} else {
		err = fsx.WriteFileAtomicNoOverwrite(dir, name, b)
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

func buildTitle(code, title string) string {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return code
	case code != "" && !strings.HasPrefix(title, code):
		// 约定：title 以标识开头。
		return code + " " + title
	default:
		return title
	}
}

func normList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
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
	if len(out) == 0 {
		return nil
	}
	return out
}
