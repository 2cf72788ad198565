// Package imgx 负责封面图的派生：poster 取 fanart 右半边，过宽时降采样。
package imgx

import (
	"bytes"
	"errors"
	"image"
	stddraw "image/draw"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器（输入不一定总是 jpeg）

	"golang.org/x/image/draw"
)

// MaxPosterWidth 超过该宽度的 poster 会被等比降采样。
const MaxPosterWidth = 1000

// PosterFromFanart 把 fanart 图片裁切为“右半边”，并编码为 JPEG（用于 poster.jpg）。
//
// 约束：
// - 输入允许是 JPEG/PNG（依赖标准库解码器）
// - 输出固定为 JPEG
// - 裁切规则：保留原高度，宽度取右半边（从 w/2 到 w）
// - 裁切结果宽于 MaxPosterWidth 时等比降采样（Catmull-Rom）
func PosterFromFanart(fanart []byte) ([]byte, error) {
	if len(fanart) == 0 {
		return nil, errors.New("fanart 为空")
	}

	img, _, err := image.Decode(bytes.NewReader(fanart))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}

	// 右半边：x 从 w/2 到 w，y 全保留。
	x0 := b.Min.X + b.Dx()/2
	srcRect := image.Rect(x0, b.Min.Y, b.Max.X, b.Max.Y)

	dst := image.NewRGBA(image.Rect(0, 0, srcRect.Dx(), srcRect.Dy()))
	stddraw.Draw(dst, dst.Bounds(), img, srcRect.Min, stddraw.Src)

	out := downscale(dst)

	var buf bytes.Buffer
	// 质量 95：体积与质量之间的均衡点。
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func downscale(src *image.RGBA) image.Image {
	w := src.Bounds().Dx()
	if w <= MaxPosterWidth {
		return src
	}
	h := src.Bounds().Dy() * MaxPosterWidth / w
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, MaxPosterWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
