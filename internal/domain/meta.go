package domain

// MovieMeta 是刮削产物的统一形态：所有 provider 解析后都收敛到这里，
// 下游（NFO、封面、报告）不再接触任何站点私有结构。
//
// 约束：
// - 成功解析后 Website 必须是最终采用 provider 的详情页 URL（来源可追溯）
// - 缺失字段留零值即可；禁止为凑“全量字段”引入站点特有字段
type MovieMeta struct {
	Code     Code
	Title    string
	Studio   string
	Series   string
	Release  string // ISO 日期，如 "2025-11-27"
	Year     int
	RuntimeM int // 片长（分钟）

	Actors []string
	Genres []string
	Tags   []string

	Website   string
	CoverURL  string
	FanartURL string
}
