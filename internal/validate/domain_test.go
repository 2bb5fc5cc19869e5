package validate

import (
	"strings"
	"testing"
)

// TestDomain_Valid は妥当なドメイン名が受理されることを検証する。
func TestDomain_Valid(t *testing.T) {
	valid := []string{
		"example.com",
		"sub.example.com",
		"a.co",
		"my-site.example.co.jp",
		"123.example.com",
		"xn--wgv71a.example", // punycode
	}

	for _, d := range valid {
		t.Run(d, func(t *testing.T) {
			if err := Domain(d); err != nil {
				t.Errorf("Domain(%q) returned error: %v", d, err)
			}
		})
	}
}

// TestDomain_Invalid は不正なドメイン名が拒否されることを検証する。
func TestDomain_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"example",          // ラベルが1つ
		".example.com",     // 空ラベル
		"example..com",     // 空ラベル
		"example.com.",     // 末尾の空ラベル
		"-example.com",     // ハイフン開始
		"example-.com",     // ハイフン終了
		"exa mple.com",     // 空白
		"example.com/path", // パス付き
		"http://example.com",
		strings.Repeat("a", 64) + ".com",            // ラベル長超過
		strings.Repeat("abcdefghi.", 26) + "com",    // 全体長超過
	}

	for _, d := range invalid {
		t.Run(d, func(t *testing.T) {
			if err := Domain(d); err == nil {
				t.Errorf("Domain(%q) should have returned error", d)
			}
		})
	}
}
