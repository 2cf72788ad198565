package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// 左半红、右半蓝，便于验证裁切取的是右半边。
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return img
}

func TestPosterIsRightHalf(t *testing.T) {
	out, err := PosterFromFanart(encodePNG(t, 400, 300))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	img := decodeJPEG(t, out)
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 300 {
		t.Fatalf("期望 200x300，实际 %v", img.Bounds())
	}
	// 右半边是蓝色。
	r, g, b, _ := img.At(100, 150).RGBA()
	if b>>8 < 200 || r>>8 > 60 || g>>8 > 60 {
		t.Fatalf("期望蓝色主导，实际 r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestPosterDownscalesWideImages(t *testing.T) {
	// 右半边宽 1500 > MaxPosterWidth，应等比缩到 1000。
	out, err := PosterFromFanart(encodePNG(t, 3000, 600))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	img := decodeJPEG(t, out)
	if img.Bounds().Dx() != MaxPosterWidth {
		t.Fatalf("期望宽度 %d，实际 %d", MaxPosterWidth, img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 400 {
		t.Fatalf("期望等比高度 400，实际 %d", img.Bounds().Dy())
	}
}

func TestPosterRejectsBadInput(t *testing.T) {
	if _, err := PosterFromFanart(nil); err == nil {
		t.Fatalf("期望空输入报错")
	}
	if _, err := PosterFromFanart([]byte("not an image")); err == nil {
		t.Fatalf("期望非法图片报错")
	}
}
