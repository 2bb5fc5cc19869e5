package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
)

// PostgresDomainRepo はPostgreSQLを使用したドメインレコードリポジトリ。
type PostgresDomainRepo struct {
	db *sql.DB
}

// NewPostgresDomainRepo はPostgresDomainRepoを生成する。
func NewPostgresDomainRepo(db *sql.DB) *PostgresDomainRepo {
	return &PostgresDomainRepo{db: db}
}

// Find は指定ドメインのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresDomainRepo) Find(ctx context.Context, domain string) (*model.DomainRecord, error) {
	rec := &model.DomainRecord{}
	var threatData, registrationData []byte
	var lastUpdated, nextCheck sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT domain, status, threat_data, registration_data,
		        created_at, last_updated, next_check
		 FROM domains WHERE domain = $1`,
		model.NormalizeDomain(domain),
	).Scan(
		&rec.Domain, &rec.Status, &threatData, &registrationData,
		&rec.CreatedAt, &lastUpdated, &nextCheck,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ドメインレコードの取得に失敗しました: %w", err)
	}

	rec.ThreatData = threatData
	rec.RegistrationData = registrationData
	rec.LastUpdated = nullTimePtr(lastUpdated)
	rec.NextCheck = nullTimePtr(nextCheck)

	return rec, nil
}

// UpsertCreate はレコードが存在しない場合のみstatus=pendingで作成する。
// 既存レコードがある場合は何も変更しない。
func (r *PostgresDomainRepo) UpsertCreate(ctx context.Context, domain string, createdAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO domains (domain, status, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (domain) DO NOTHING`,
		model.NormalizeDomain(domain), model.StatusPending, createdAt,
	)
	if err != nil {
		return fmt.Errorf("ドメインレコードの作成に失敗しました: %w", err)
	}
	return nil
}

// UpsertSetFields は指定フィールドのみを単一文でアトミックに設定する。
// レコードが存在しない場合は作成する。nilのフィールドは既存の値を維持する。
// created_atはコンフリクト時に変更されない。
func (r *PostgresDomainRepo) UpsertSetFields(ctx context.Context, domain string, fields DomainFields) error {
	var status interface{}
	if fields.Status != nil {
		status = string(*fields.Status)
	}
	var threatData, registrationData interface{}
	if fields.ThreatData != nil {
		threatData = []byte(fields.ThreatData)
	}
	if fields.RegistrationData != nil {
		registrationData = []byte(fields.RegistrationData)
	}
	var lastUpdated, nextCheck interface{}
	if fields.LastUpdated != nil {
		lastUpdated = *fields.LastUpdated
	}
	if fields.NextCheck != nil {
		nextCheck = *fields.NextCheck
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO domains (domain, status, threat_data, registration_data,
		                      created_at, last_updated, next_check)
		 VALUES ($1, COALESCE($2, 'pending'), $3, $4, now(), $5, $6)
		 ON CONFLICT (domain) DO UPDATE SET
		     status            = COALESCE($2, domains.status),
		     threat_data       = COALESCE($3, domains.threat_data),
		     registration_data = COALESCE($4, domains.registration_data),
		     last_updated      = COALESCE($5, domains.last_updated),
		     next_check        = COALESCE($6, domains.next_check)`,
		model.NormalizeDomain(domain), status, threatData, registrationData,
		lastUpdated, nextCheck,
	)
	if err != nil {
		return fmt.Errorf("ドメインレコードの更新に失敗しました: %w", err)
	}
	return nil
}

// ListStalePage は陳腐化したレコードをキーセットページングで取得する。
// domain昇順の前方一方向パスであり、同一スイープ中に同じレコードを二度返さない。
func (r *PostgresDomainRepo) ListStalePage(ctx context.Context, olderThan time.Time, afterDomain string, limit int) ([]*model.DomainRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, status, threat_data, registration_data,
		        created_at, last_updated, next_check
		 FROM domains
		 WHERE (last_updated IS NULL OR last_updated < $1)
		   AND domain > $2
		 ORDER BY domain ASC
		 LIMIT $3`,
		olderThan, afterDomain, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("陳腐化レコードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []*model.DomainRecord
	for rows.Next() {
		rec := &model.DomainRecord{}
		var threatData, registrationData []byte
		var lastUpdated, nextCheck sql.NullTime

		if err := rows.Scan(
			&rec.Domain, &rec.Status, &threatData, &registrationData,
			&rec.CreatedAt, &lastUpdated, &nextCheck,
		); err != nil {
			return nil, fmt.Errorf("陳腐化レコードの読み取りに失敗しました: %w", err)
		}

		rec.ThreatData = threatData
		rec.RegistrationData = registrationData
		rec.LastUpdated = nullTimePtr(lastUpdated)
		rec.NextCheck = nullTimePtr(nextCheck)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("陳腐化レコードの走査に失敗しました: %w", err)
	}

	return records, nil
}

// nullTimePtr はsql.NullTimeから*time.Timeを取得する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}
