package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/domainwatch/internal/model"
)

// PostgresRequestLogRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresRequestLogRepo struct {
	db *sql.DB
}

// NewPostgresRequestLogRepo はPostgresRequestLogRepoを生成する。
func NewPostgresRequestLogRepo(db *sql.DB) *PostgresRequestLogRepo {
	return &PostgresRequestLogRepo{db: db}
}

// Create は監査ログエントリを1件追加する。
// IDが未設定の場合は新しいUUIDを割り当てる。
func (r *PostgresRequestLogRepo) Create(ctx context.Context, entry *model.RequestLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var response interface{}
	if entry.Response != nil {
		response = []byte(entry.Response)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_logs (id, endpoint, method, domain, response, status_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Endpoint, entry.Method, nullString(entry.Domain),
		response, entry.StatusCode, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("監査ログの書き込みに失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
