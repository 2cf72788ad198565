package domain

// VideoFile 是扫描阶段对单个视频文件的快照。
//
// 不变量：
// - AbsPath 是 clean 过的绝对路径；RelPath 相对扫描根目录
// - 只来自一次 stat，扫描阶段绝不读文件内容
type VideoFile struct {
	AbsPath string
	RelPath string
	Base    string // 不含扩展名的文件名
	Ext     string // 小写、带点，如 ".mp4"
	Size    int64
	ModUnix int64
}
