// Package sweep は分析結果の鮮度維持ジョブを提供する。
// 保持期間を超過したドメインレコードを日次バッチで検出し、
// 再分析のためプライマリキューへ投入する。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/domainwatch/internal/metrics"
	"github.com/hitoshi/domainwatch/internal/repository"
)

// Enqueuer は分析ジョブの投入インターフェース。
type Enqueuer interface {
	Enqueue(ctx context.Context, domain string) (bool, error)
}

// Sweeper は古くなったドメインレコードの再投入を行う。
// キーセットページネーションでバッチ単位に読み進めるため、
// メモリ使用量は対象件数に依存せず1バッチ分に収まる。
type Sweeper struct {
	domains   repository.DomainRepository
	primary   Enqueuer
	collector metrics.MetricsCollector
	logger    *slog.Logger

	// BatchSize は1回のページ取得件数（デフォルト: 100）。
	BatchSize int
	// Retention は再分析までの保持期間（デフォルト: 30日）。
	Retention time.Duration
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(
	domains repository.DomainRepository,
	primary Enqueuer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	batchSize int,
	retention time.Duration,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Sweeper{
		domains:   domains,
		primary:   primary,
		collector: collector,
		logger:    logger,
		BatchSize: batchSize,
		Retention: retention,
	}
}

// RunOnce は保持期間を超過したドメインを全件走査し、プライマリキューへ投入する。
// ドメイン名の昇順にキーセットページネーションで読み進めるため、
// 同一レコードが二度処理されることはない。投入エラーで即座に中断する。
// 再投入されたドメイン数を返す。
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	olderThan := start.Add(-s.Retention)

	total := 0
	enqueued := 0
	afterDomain := ""

	for {
		page, err := s.domains.ListStalePage(ctx, olderThan, afterDomain, s.BatchSize)
		if err != nil {
			return enqueued, fmt.Errorf("再分析対象の取得に失敗しました: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			ok, err := s.primary.Enqueue(ctx, rec.Domain)
			if err != nil {
				return enqueued, fmt.Errorf("再分析ジョブの投入に失敗しました: %w", err)
			}
			if ok {
				enqueued++
			}
			total++
		}

		afterDomain = page[len(page)-1].Domain
		if len(page) < s.BatchSize {
			break
		}
	}

	duration := time.Since(start)
	s.collector.RecordSweepEnqueued(enqueued)
	s.logger.Info("スイープが完了しました",
		slog.Int("stale_count", total),
		slog.Int("enqueued_count", enqueued),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return enqueued, nil
}

// Start は起動直後に1回スイープを実行し、以降はcronスケジュールに従って
// 実行する。コンテキストのキャンセルまでブロックする。
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.logger.Info("スイープスケジューラを開始しました",
		slog.String("schedule", schedule),
		slog.Int("batch_size", s.BatchSize),
		slog.Duration("retention", s.Retention),
	)

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("スイープの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}); err != nil {
		return fmt.Errorf("スイープスケジュールの登録に失敗しました: %w", err)
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	s.logger.Info("スイープスケジューラを停止しました")
	return nil
}
