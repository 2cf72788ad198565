package scan

import (
	"io/fs"
	"iter"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

// Options 控制一次扫描。
type Options struct {
	// ExcludeDirs 来自配置文件，均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）。
	ExcludeDirs []string
	// Exts 是允许的扩展名（小写、含点）；空表示内置视频扩展名集合。
	Exts []string
	// SkipHidden 跳过以 '.' 开头的文件与目录。
	SkipHidden bool
}

// Videos 惰性遍历 root 下的视频文件，并应用目录排除规则。
//
// 规则（硬约束）：
// - 永久排除：<root>/out/ 与 <root>/cache/
// - 扫描阶段只做 stat（DirEntry.Info），不读文件内容
// - 遍历是惰性的：消费方 break 即停止，超大目录树不需要先物化完整列表
//
// 错误通过序列的第二个值交付；消费方收到非 nil 错误后序列终止。
func Videos(root string, opts Options) iter.Seq2[domain.VideoFile, error] {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, opts.ExcludeDirs)
	allowed := buildExts(opts.Exts)

	return func(yield func(domain.VideoFile, error) bool) {
		stop := false
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if opts.SkipHidden && path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
			if isExcluded(path, excluded) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			name := d.Name()
			ext := strings.ToLower(filepath.Ext(name))
			if _, ok := allowed[ext]; !ok {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			v := domain.VideoFile{
				AbsPath: path,
				RelPath: rel,
				Base:    strings.TrimSuffix(name, filepath.Ext(name)),
				Ext:     ext,
				Size:    info.Size(),
				ModUnix: info.ModTime().Unix(),
			}
			if !yield(v, nil) {
				stop = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stop {
			yield(domain.VideoFile{}, err)
		}
	}
}

// Collect 物化整个序列并强制稳定排序（按 RelPath）。
// 需要确定性输出的调用方（report/测试）用它；流式消费直接用 Videos。
func Collect(root string, opts Options) ([]domain.VideoFile, error) {
	files := make([]domain.VideoFile, 0, 128)
	for v, err := range Videos(root, opts) {
		if err != nil {
			return nil, err
		}
		files = append(files, v)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func buildExts(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	if len(exts) == 0 {
		for _, e := range []string{".mp4", ".mkv", ".avi"} {
			out[e] = struct{}{}
		}
		return out
	}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, 2+len(excludeDirs))
	excluded = append(excluded, filepath.Join(root, "out"), filepath.Join(root, "cache"))

	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
