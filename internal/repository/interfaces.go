// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
)

// DomainFields はドメインレコードの部分更新で設定するフィールド群。
// nilのフィールドは変更されず、既存の値が維持される。
type DomainFields struct {
	Status           *model.Status
	ThreatData       json.RawMessage
	RegistrationData json.RawMessage
	LastUpdated      *time.Time
	NextCheck        *time.Time
}

// DomainRepository はドメインレコードの永続化インターフェース。
// 全ての操作はdomainをキーとする単一行のアトミックな読み書きで表現される。
// 複数行トランザクションは必要としない。
type DomainRepository interface {
	// Find は指定ドメインのレコードを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, domain string) (*model.DomainRecord, error)

	// UpsertCreate はレコードが存在しない場合のみstatus=pendingで作成する。
	// 既存レコードがある場合は何も変更しない（created_atは常に保持される）。
	UpsertCreate(ctx context.Context, domain string, createdAt time.Time) error

	// UpsertSetFields は指定フィールドのみをアトミックに設定する。
	// レコードが存在しない場合は作成する（ジョブがレコードより長生きした場合に対応）。
	// read-modify-writeではなく単一文のINSERT ... ON CONFLICT DO UPDATEで実行し、
	// スイープによる再投入と旧ジョブ完了の競合を安全にする。
	UpsertSetFields(ctx context.Context, domain string, fields DomainFields) error

	// ListStalePage は陳腐化したレコードを前方一方向のキーセットページングで取得する。
	// last_updatedが欠落またはolderThanより古いレコードを、domain昇順で
	// afterDomainより後ろからlimit件まで返す。スイープはこのページを1つずつ
	// 処理することでメモリ上に1バッチしか保持しない。
	ListStalePage(ctx context.Context, olderThan time.Time, afterDomain string, limit int) ([]*model.DomainRecord, error)
}

// RequestLogRepository はAPIリクエスト監査ログの永続化インターフェース。
type RequestLogRepository interface {
	// Create は監査ログエントリを1件追加する。
	Create(ctx context.Context, entry *model.RequestLog) error
}
