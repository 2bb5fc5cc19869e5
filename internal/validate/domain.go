// Package validate はリクエスト入力の構文検証を提供する。
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// maxDomainLength はドメイン名全体の最大長（RFC 1035）。
const maxDomainLength = 253

// maxLabelLength はラベル1つの最大長（RFC 1035）。
const maxLabelLength = 63

// domainLabelPattern はドメインのラベル1つの構文。
// 英数字で開始・終了し、内部にハイフンを許可する。
var domainLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

// Domain はドメイン名の構文を検証する。
// 正規化（小文字化・トリム）済みの値を渡すこと。
// 少なくとも2つのラベル（例: example.com）を要求する。
func Domain(domain string) error {
	if domain == "" {
		return fmt.Errorf("ドメインが指定されていません")
	}
	if len(domain) > maxDomainLength {
		return fmt.Errorf("ドメインが長すぎます: %d文字（上限%d文字）", len(domain), maxDomainLength)
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("ドメインの形式が不正です: %s", domain)
	}
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("ドメインの形式が不正です: %s", domain)
		}
		if len(label) > maxLabelLength {
			return fmt.Errorf("ドメインのラベルが長すぎます: %s", label)
		}
		if !domainLabelPattern.MatchString(label) {
			return fmt.Errorf("ドメインの形式が不正です: %s", domain)
		}
	}

	return nil
}
