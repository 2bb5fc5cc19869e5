// Package analyze はドメイン分析ジョブを処理するワーカープールを提供する。
// プライマリキューとセカンダリ（リトライ）キューの両方を固定数のワーカーで
// 消費し、分析結果をドメインレコードへ書き込む。
package analyze

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/domainwatch/internal/metrics"
	"github.com/hitoshi/domainwatch/internal/model"
	"github.com/hitoshi/domainwatch/internal/queue"
	"github.com/hitoshi/domainwatch/internal/repository"
)

// AnalyzerService はドメイン分析の実行インターフェース。
type AnalyzerService interface {
	// Analyze は2つの外部ルックアップを実行し、結合結果を返す。
	Analyze(ctx context.Context, domain string) (*model.AnalysisResult, error)
}

// Pool はジョブキューを消費するワーカープール。
// concurrency個のゴルーチンが2つのキューの配信チャネルを同時に受信する。
// 処理は冪等であり、at-least-onceによる重複配信を許容する。
type Pool struct {
	primary     queue.Queue
	secondary   queue.Queue
	analyzer    AnalyzerService
	domains     repository.DomainRepository
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	concurrency int
}

// NewPool はPoolの新しいインスタンスを生成する。
// concurrencyが0以下の場合はデフォルト値2を使用する。
func NewPool(
	primary queue.Queue,
	secondary queue.Queue,
	analyzer AnalyzerService,
	domains repository.DomainRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	concurrency int,
) *Pool {
	if concurrency <= 0 {
		concurrency = 2
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Pool{
		primary:     primary,
		secondary:   secondary,
		analyzer:    analyzer,
		domains:     domains,
		collector:   collector,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run はワーカープールを起動し、コンテキストのキャンセルまで
// 両キューのジョブを処理する。全ワーカーの停止後に返る。
func (p *Pool) Run(ctx context.Context) {
	primaryCh := p.primary.Consume(ctx)
	secondaryCh := p.secondary.Consume(ctx)

	p.logger.Info("分析ワーカープールを開始しました",
		slog.Int("concurrency", p.concurrency),
		slog.String("primary_queue", string(p.primary.Name())),
		slog.String("secondary_queue", string(p.secondary.Name())),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, primaryCh, secondaryCh)
		}(i)
	}

	wg.Wait()
	p.logger.Info("分析ワーカープールを停止しました")
}

// worker は2つの配信チャネルを受信し、ジョブを1件ずつ処理する。
func (p *Pool) worker(ctx context.Context, workerID int, primaryCh, secondaryCh <-chan queue.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-primaryCh:
			if !ok {
				primaryCh = nil
				if secondaryCh == nil {
					return
				}
				continue
			}
			p.process(ctx, workerID, p.primary, d)
		case d, ok := <-secondaryCh:
			if !ok {
				secondaryCh = nil
				if primaryCh == nil {
					return
				}
				continue
			}
			p.process(ctx, workerID, p.secondary, d)
		}
	}
}

// process は1件のジョブ配信を処理する。
// 成功時は結果とreadyステータスを書き込んでAckする。
// 失敗時はerrorステータスを書き込み、試行回数が残っていればNackで
// 再配信させ、プライマリキューでの最終試行ならセカンダリキューへ
// エスカレーションしてからAckする。
func (p *Pool) process(ctx context.Context, workerID int, src queue.Queue, d queue.Delivery) {
	start := time.Now()
	logger := p.logger.With(
		slog.Int("worker_id", workerID),
		slog.String("queue", string(src.Name())),
		slog.String("domain", d.Domain),
		slog.Int("attempt", d.Attempt),
	)

	// 処理開始を示すためpendingへ更新する。
	// スイープからの再投入等、既にpending以外になっている場合に備える。
	pending := model.StatusPending
	if err := p.domains.UpsertSetFields(ctx, d.Domain, repository.DomainFields{Status: &pending}); err != nil {
		logger.Error("ドメインステータスの更新に失敗しました",
			slog.String("error", err.Error()),
		)
		// ストア障害時は結果を書き込めないため、ジョブを再配信させる
		if nackErr := src.Nack(ctx, d); nackErr != nil {
			logger.Error("ジョブのNackに失敗しました", slog.String("error", nackErr.Error()))
		}
		return
	}

	result, err := p.analyzer.Analyze(ctx, d.Domain)
	duration := time.Since(start)
	p.collector.RecordAnalyzeLatency(duration)

	if err != nil {
		p.handleFailure(ctx, logger, src, d, err, duration)
		return
	}

	ready := model.StatusReady
	lastUpdated := result.CompletedAt
	nextCheck := result.CompletedAt.Add(model.RetentionWindow)
	fields := repository.DomainFields{
		Status:           &ready,
		ThreatData:       result.ThreatData,
		RegistrationData: result.RegistrationData,
		LastUpdated:      &lastUpdated,
		NextCheck:        &nextCheck,
	}
	if err := p.domains.UpsertSetFields(ctx, d.Domain, fields); err != nil {
		logger.Error("分析結果の保存に失敗しました",
			slog.String("error", err.Error()),
		)
		if nackErr := src.Nack(ctx, d); nackErr != nil {
			logger.Error("ジョブのNackに失敗しました", slog.String("error", nackErr.Error()))
		}
		return
	}

	if err := src.Ack(ctx, d); err != nil {
		logger.Error("ジョブのAckに失敗しました", slog.String("error", err.Error()))
	}

	p.collector.RecordAnalyzeSuccess(d.Domain)
	logger.Info("ドメイン分析が完了しました",
		slog.String("status", string(model.StatusReady)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// handleFailure は分析失敗時のステータス更新とキュー操作を行う。
func (p *Pool) handleFailure(ctx context.Context, logger *slog.Logger, src queue.Queue, d queue.Delivery, analyzeErr error, duration time.Duration) {
	p.collector.RecordAnalyzeFailure(d.Domain, analyzeErr.Error())

	errStatus := model.StatusError
	if err := p.domains.UpsertSetFields(ctx, d.Domain, repository.DomainFields{Status: &errStatus}); err != nil {
		logger.Error("エラーステータスの保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	if !d.FinalAttempt() {
		logger.Warn("ドメイン分析に失敗しました。再試行します",
			slog.String("error", analyzeErr.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		if err := src.Nack(ctx, d); err != nil {
			logger.Error("ジョブのNackに失敗しました", slog.String("error", err.Error()))
		}
		return
	}

	// プライマリキューでの最終試行失敗はセカンダリキューへエスカレーション
	if src.Name() == p.primary.Name() {
		enqueued, err := p.secondary.Enqueue(ctx, d.Domain)
		if err != nil {
			logger.Error("セカンダリキューへの投入に失敗しました",
				slog.String("error", err.Error()),
			)
			// 最終試行のためこのNackでジョブはdeadになり、エスカレーションは
			// 失われる。レコードはerrorのままlast_updatedが未設定なので、
			// 次回のスイープが再分析ジョブとして拾い直す。
			if nackErr := src.Nack(ctx, d); nackErr != nil {
				logger.Error("ジョブのNackに失敗しました", slog.String("error", nackErr.Error()))
			}
			return
		}
		if enqueued {
			p.collector.RecordEscalation(d.Domain)
		}
		logger.Warn("ドメイン分析がプライマリキューで失敗しました。セカンダリキューへエスカレーションします",
			slog.String("error", analyzeErr.Error()),
			slog.Bool("enqueued", enqueued),
		)
	} else {
		logger.Error("ドメイン分析がセカンダリキューでも失敗しました。リトライを打ち切ります",
			slog.String("error", analyzeErr.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}

	// 最終試行のNackはジョブをdeadにしてキーを解放する。
	// エスカレーション済みの場合もこのキューでの追跡は終了する。
	if err := src.Nack(ctx, d); err != nil {
		logger.Error("ジョブのNackに失敗しました", slog.String("error", err.Error()))
	}
}
