// Package analysis はドメインの分析サービスを提供する。
// 脅威インテリジェンスと登録情報の2つの外部ルックアップを並行実行し、
// 結合結果を返す。各ルックアップは独立したタイムアウトと
// 一時的失敗のローカルリトライを持つ。
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
)

// ThreatLookup は脅威情報取得のインターフェース。
// テスト時にモックに差し替え可能。
type ThreatLookup interface {
	Lookup(ctx context.Context, domain string) (json.RawMessage, error)
}

// RegistrationLookup は登録情報取得のインターフェース。
type RegistrationLookup interface {
	Lookup(ctx context.Context, domain string) (json.RawMessage, error)
}

// Analyzer は1ドメインの分析を実行するサービス。
// 2つのルックアップを並行実行し、両方の完了を待ってから結果を結合する。
// タイムアウトとリトライはルックアップ側が試行単位で管理するため、
// ここでは分析全体のデッドラインを設定しない。
// 副作用を持たないため、同一ドメインに対して複数回呼び出しても安全で、
// キューのat-least-once配信による重複実行と両立する。
type Analyzer struct {
	threat       ThreatLookup
	registration RegistrationLookup
	logger       *slog.Logger
}

// NewAnalyzer はAnalyzerの新しいインスタンスを生成する。
func NewAnalyzer(threat ThreatLookup, registration RegistrationLookup, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		threat:       threat,
		registration: registration,
		logger:       logger,
	}
}

// Analyze はドメインの2つの外部ルックアップを並行実行し、結合結果を返す。
// どちらかが失敗した場合は分析全体が失敗し、ワーカーにはジョブ失敗として観測される。
func (a *Analyzer) Analyze(ctx context.Context, domain string) (*model.AnalysisResult, error) {
	domain = model.NormalizeDomain(domain)
	start := time.Now()

	var wg sync.WaitGroup
	var threatData, registrationData json.RawMessage
	var threatErr, registrationErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		threatData, threatErr = a.threat.Lookup(ctx, domain)
	}()
	go func() {
		defer wg.Done()
		registrationData, registrationErr = a.registration.Lookup(ctx, domain)
	}()
	wg.Wait()

	if threatErr != nil {
		return nil, fmt.Errorf("脅威ルックアップに失敗しました: %w", threatErr)
	}
	if registrationErr != nil {
		return nil, fmt.Errorf("登録情報ルックアップに失敗しました: %w", registrationErr)
	}

	completedAt := time.Now()
	a.logger.Info("ドメイン分析が完了しました",
		slog.String("domain", domain),
		slog.Float64("duration_ms", float64(completedAt.Sub(start).Milliseconds())),
	)

	return &model.AnalysisResult{
		Domain:           domain,
		ThreatData:       threatData,
		RegistrationData: registrationData,
		CompletedAt:      completedAt,
	}, nil
}
