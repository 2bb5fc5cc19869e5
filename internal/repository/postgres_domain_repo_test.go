package repository

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
)

func sqlNullTime(t time.Time, valid bool) sql.NullTime {
	return sql.NullTime{Time: t, Valid: valid}
}

// PostgresDomainRepoがDomainRepositoryインターフェースを満たすことを検証
func TestPostgresDomainRepo_ImplementsInterface(t *testing.T) {
	var _ DomainRepository = (*PostgresDomainRepo)(nil)
}

// NewPostgresDomainRepoが正しく初期化されることを検証
func TestNewPostgresDomainRepo_Initializes(t *testing.T) {
	repo := NewPostgresDomainRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// DomainRecordモデルのフィールドが正しく構築されることを検証
func TestDomainRecord_Fields(t *testing.T) {
	now := time.Now()
	rec := &model.DomainRecord{
		Domain:      "example.com",
		Status:      model.StatusReady,
		ThreatData:  json.RawMessage(`{"detections": 40}`),
		CreatedAt:   now,
		LastUpdated: &now,
	}

	if rec.Domain != "example.com" {
		t.Errorf("rec.Domain = %q, want %q", rec.Domain, "example.com")
	}
	if rec.Status != model.StatusReady {
		t.Errorf("rec.Status = %q, want %q", rec.Status, model.StatusReady)
	}
	if rec.LastUpdated == nil || !rec.LastUpdated.Equal(now) {
		t.Error("rec.LastUpdated should equal now")
	}
}

// 未分析レコードの時刻フィールドがnil許容であることを検証
func TestDomainRecord_NilTimestamps(t *testing.T) {
	rec := &model.DomainRecord{
		Domain: "example.com",
		Status: model.StatusPending,
	}

	if rec.LastUpdated != nil {
		t.Error("last_updated should be nil by default")
	}
	if rec.NextCheck != nil {
		t.Error("next_check should be nil by default")
	}
}

// DomainFieldsのnilフィールドが「変更なし」を意味することの前提を検証
func TestDomainFields_ZeroValueMeansNoChange(t *testing.T) {
	var fields DomainFields
	if fields.Status != nil || fields.ThreatData != nil || fields.RegistrationData != nil {
		t.Error("zero-value DomainFields should not set any field")
	}
	if fields.LastUpdated != nil || fields.NextCheck != nil {
		t.Error("zero-value DomainFields should not set timestamps")
	}
}

// nullTimePtrの変換を検証
func TestNullTimePtr(t *testing.T) {
	if nullTimePtr(sqlNullTime(time.Time{}, false)) != nil {
		t.Error("invalid NullTime should convert to nil")
	}

	now := time.Now()
	got := nullTimePtr(sqlNullTime(now, true))
	if got == nil || !got.Equal(now) {
		t.Errorf("valid NullTime should convert to %v, got %v", now, got)
	}
}
