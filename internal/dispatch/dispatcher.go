// Package dispatch は分析ジョブの投入口（イングレスディスパッチャー）を提供する。
// HTTP層から呼ばれ、レコードの存在を保証した上で、分析が進行中でない場合に
// 限りプライマリキューへジョブを投入する。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
	"github.com/hitoshi/domainwatch/internal/repository"
)

// Enqueuer はジョブ投入のインターフェース。queue.Queueの投入面のみを要求する。
type Enqueuer interface {
	Enqueue(ctx context.Context, domain string) (bool, error)
}

// Dispatcher はドメイン分析の受け付けと現在状態の報告を行う。
// 重複排除はここ（statusの確認）とキュー層（DedupKey）の二段で行われる。
type Dispatcher struct {
	domains repository.DomainRepository
	primary Enqueuer
	logger  *slog.Logger
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(domains repository.DomainRepository, primary Enqueuer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		domains: domains,
		primary: primary,
		logger:  logger,
	}
}

// Submit はドメインの分析を受け付ける。
//   - レコードが存在しない場合: status=pendingで作成してジョブを投入する
//   - status=pendingの場合: 二重投入せず現在状態をそのまま返す
//   - それ以外のstatusの場合: created_atを保持したままpendingへ戻し、
//     新しいジョブを投入する
//
// 戻り値は常に {domain, status: pending}（受理済み・未完了のシグナル）。
// ドメインは投入前に小文字へ正規化される。構文検証は呼び出し側の責務。
func (d *Dispatcher) Submit(ctx context.Context, domain string) (*model.SubmitResult, error) {
	domain = model.NormalizeDomain(domain)

	record, err := d.domains.Find(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("レコードの確認に失敗しました: %w", err)
	}

	if record != nil && record.Status == model.StatusPending {
		// 分析が既に進行中。読み取り以外の副作用は起こさない。
		return &model.SubmitResult{Domain: domain, Status: model.StatusPending}, nil
	}

	if record == nil {
		if err := d.domains.UpsertCreate(ctx, domain, time.Now()); err != nil {
			return nil, fmt.Errorf("レコードの作成に失敗しました: %w", err)
		}
	} else {
		status := model.StatusPending
		if err := d.domains.UpsertSetFields(ctx, domain, repository.DomainFields{Status: &status}); err != nil {
			return nil, fmt.Errorf("レコードのpendingへの更新に失敗しました: %w", err)
		}
	}

	enqueued, err := d.primary.Enqueue(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("ジョブの投入に失敗しました: %w", err)
	}

	d.logger.Info("ドメイン分析を受け付けました",
		slog.String("domain", domain),
		slog.Bool("enqueued", enqueued),
	)

	return &model.SubmitResult{Domain: domain, Status: model.StatusPending}, nil
}

// Lookup はドメインの最新レコードを返す。副作用のない純粋な読み取りで、
// レコードが存在しない場合はnilを返す（呼び出し側の読み取りパスにとって
// 「未登録」は投入のトリガーとして意味を持つ）。
func (d *Dispatcher) Lookup(ctx context.Context, domain string) (*model.DomainRecord, error) {
	return d.domains.Find(ctx, model.NormalizeDomain(domain))
}
