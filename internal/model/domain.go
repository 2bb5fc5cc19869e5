// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Status はドメインレコードの分析状態を表す。
type Status string

const (
	// StatusPending は分析待ちまたは分析中の状態。
	StatusPending Status = "pending"
	// StatusReady は分析が正常に完了した状態。
	StatusReady Status = "ready"
	// StatusError はリトライを使い果たして分析に失敗した状態。
	StatusError Status = "error"
)

// RetentionWindow は分析結果の保持期間。
// LastUpdatedからこの期間を経過したレコードはスイープの再分析対象になる。
const RetentionWindow = 30 * 24 * time.Hour

// DomainRecord は1つのドメインの分析結果と状態を表す。
// domainが自然キーであり、全ての読み書きの前に小文字へ正規化される。
type DomainRecord struct {
	Domain           string
	Status           Status
	ThreatData       json.RawMessage
	RegistrationData json.RawMessage
	CreatedAt        time.Time
	LastUpdated      *time.Time
	NextCheck        *time.Time
}

// NormalizeDomain はドメイン名を小文字へ正規化する。
// レコードの検索・書き込み・ジョブキー生成の前に必ず適用する。
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// AnalysisResult は分析サービスが返す2つの外部ルックアップの結合結果。
type AnalysisResult struct {
	Domain           string
	ThreatData       json.RawMessage
	RegistrationData json.RawMessage
	CompletedAt      time.Time
}

// SubmitResult はディスパッチャーのsubmit操作のレスポンス。
type SubmitResult struct {
	Domain string `json:"domain"`
	Status Status `json:"status"`
}
