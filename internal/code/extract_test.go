package code

import (
	"testing"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

func TestExtractNormalizesPattern(t *testing.T) {
	cases := []struct {
		in   string
		want domain.Code
	}{
		{"CAWD-895", "CAWD-895"},
		{"cawd-895", "CAWD-895"},
		{"cawd895", "CAWD-895"},
		{"CAWD.895", "CAWD-895"},
		{"cawd_895", "CAWD-895"},
		{"cawd 895", "CAWD-895"},
		{"[HD] cawd-895 1080p", "CAWD-895"},
		{"abc-12", "ABC-12"},
		{"abcdef-12345", "ABCDEF-12345"},
	}
	for _, c := range cases {
		if got := Extract(c.in); got != c.want {
			t.Fatalf("Extract(%q)：期望 %q，实际 %q", c.in, c.want, got)
		}
	}
}

func TestExtractFallsBackToSanitizedName(t *testing.T) {
	cases := []struct {
		in   string
		want domain.Code
	}{
		{"holiday video", "holiday-video"},
		{"家庭录像", "unknown"},
		{"a", "a"},
		{"x!!!y", "x-y"},
		{"---", "unknown"},
		{"", "unknown"},
	}
	for _, c := range cases {
		if got := Extract(c.in); got != c.want {
			t.Fatalf("Extract(%q)：期望 %q，实际 %q", c.in, c.want, got)
		}
	}
}

func TestExtractIsTotal(t *testing.T) {
	for _, in := range []string{"", " ", ".", "番号", "a1", "toolongprefix-123"} {
		if got := Extract(in); got == "" {
			t.Fatalf("Extract(%q)：期望非空标识", in)
		}
	}
}
