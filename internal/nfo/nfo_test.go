package nfo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/video-scanner/internal/domain"
)

func TestEncodeTitleConventions(t *testing.T) {
	cases := []struct {
		name  string
		meta  domain.MovieMeta
		want  string
	}{
		{"空标题回退标识", domain.MovieMeta{Code: "ABC-123"}, "<title>ABC-123</title>"},
		{"标题前缀标识", domain.MovieMeta{Code: "ABC-123", Title: "某标题"}, "<title>ABC-123 某标题</title>"},
		{"已含前缀不重复", domain.MovieMeta{Code: "ABC-123", Title: "ABC-123 某标题"}, "<title>ABC-123 某标题</title>"},
	}
	for _, c := range cases {
		b, err := Encode(c.meta)
		if err != nil {
			t.Fatalf("%s：不期望错误：%v", c.name, err)
		}
		if !strings.Contains(string(b), c.want) {
			t.Fatalf("%s：期望包含 %q，实际：\n%s", c.name, c.want, b)
		}
	}
}

func TestEncodeStructure(t *testing.T) {
	meta := domain.MovieMeta{
		Code:    "CAWD-895",
		Title:   "title",
		Studio:  " studio ",
		Release: "2025-11-27",
		Year:    2025,
		Actors:  []string{"A", "A", " ", "B"},
		Genres:  []string{"g1"},
		Tags:    []string{"t1"},
		Website: "https://example.test/v/1",
	}
	b, err := Encode(meta)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	s := string(b)

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>`,
		"<num>CAWD-895</num>",
		"<studio>studio</studio>",
		"<premiered>2025-11-27</premiered>",
		"<poster>poster.jpg</poster>",
		"<fanart>fanart.jpg</fanart>",
		"<website>https://example.test/v/1</website>",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("期望包含 %q，实际：\n%s", want, s)
		}
	}
	// 演员去重去空白。
	if strings.Count(s, "<name>A</name>") != 1 {
		t.Fatalf("期望演员 A 只出现一次，实际：\n%s", s)
	}
	// 演员并入 tag/genre。
	if !strings.Contains(s, "<tag>B</tag>") || !strings.Contains(s, "<genre>B</genre>") {
		t.Fatalf("期望演员并入 tag/genre，实际：\n%s", s)
	}
}

func TestWriteNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	meta := domain.MovieMeta{Code: "ABC-123", Title: "t"}

	name, err := Write(dir, meta, false)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if name != "ABC-123.nfo" {
		t.Fatalf("期望 ABC-123.nfo，实际 %q", name)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if _, err := Write(dir, meta, false); err == nil {
		t.Fatalf("期望目标已存在时失败，实际成功")
	}
	if _, err := Write(dir, meta, true); err != nil {
		t.Fatalf("overwrite=true 不期望错误：%v", err)
	}
}
