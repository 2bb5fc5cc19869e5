package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/domainwatch/internal/model"
)

// PostgresConfig は耐久キューの設定パラメータ。
type PostgresConfig struct {
	// MaxAttempts はジョブごとのリトライ上限（デフォルト: 3）。
	MaxAttempts int
	// RetryDelay は再配信までの固定遅延（デフォルト: 10秒）。
	RetryDelay time.Duration
	// PollInterval は配信対象ジョブのポーリング間隔（デフォルト: 1秒）。
	PollInterval time.Duration
	// Visibility はrunningのまま放置されたジョブを再配信するまでの猶予
	// （デフォルト: 5分）。プロセス再起動でクレームが放棄された場合の
	// 回復手段であり、at-least-once配信を成立させる。
	Visibility time.Duration
	// BufferSize は配信チャネルのバッファサイズ（デフォルト: 16）。
	BufferSize int
}

// DefaultPostgresConfig は耐久キューのデフォルト設定を返す。
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxAttempts:  3,
		RetryDelay:   10 * time.Second,
		PollInterval: time.Second,
		Visibility:   5 * time.Minute,
		BufferSize:   16,
	}
}

// PostgresQueue はjobsテーブルを使用した耐久ジョブキュー。
// 未完了ジョブ（queued/running）は(queue_name, dedup_key)の部分ユニーク
// インデックスで重複排除され、クレームはFOR UPDATE SKIP LOCKEDの
// ポーリングで行う。複数プロセスのワーカーが同じキューを安全に消費できる。
type PostgresQueue struct {
	db     *sql.DB
	name   model.QueueName
	config PostgresConfig
	logger *slog.Logger

	consumeOnce sync.Once
	ch          chan Delivery
}

// NewPostgresQueue はPostgresQueueの新しいインスタンスを生成する。
func NewPostgresQueue(db *sql.DB, name model.QueueName, config PostgresConfig, logger *slog.Logger) *PostgresQueue {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.Visibility <= 0 {
		config.Visibility = 5 * time.Minute
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 16
	}
	return &PostgresQueue{
		db:     db,
		name:   name,
		config: config,
		logger: logger,
		ch:     make(chan Delivery, config.BufferSize),
	}
}

// Name はキューの識別名を返す。
func (q *PostgresQueue) Name() model.QueueName {
	return q.name
}

// Enqueue はジョブを投入する。未完了の同一キーのジョブが存在する場合は
// 部分ユニークインデックスにより挿入がスキップされ、falseを返す。
func (q *PostgresQueue) Enqueue(ctx context.Context, domain string) (bool, error) {
	domain = model.NormalizeDomain(domain)
	key := dedupKey(q.name, domain)

	result, err := q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, queue_name, dedup_key, domain, status, attempts, max_attempts, next_run_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, now())
		 ON CONFLICT (queue_name, dedup_key) WHERE status IN ('queued', 'running')
		 DO NOTHING`,
		uuid.NewString(), string(q.name), key, domain, q.config.MaxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("ジョブの投入に失敗しました: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ジョブの投入結果の取得に失敗しました: %w", err)
	}
	return inserted > 0, nil
}

// Consume は配信チャネルを返す。初回呼び出し時にポーリングループを開始する。
func (q *PostgresQueue) Consume(ctx context.Context) <-chan Delivery {
	q.consumeOnce.Do(func() {
		go q.pollLoop(ctx)
	})
	return q.ch
}

// Ack はジョブの行を削除し、重複排除キーを解放する。
func (q *PostgresQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, d.id)
	if err != nil {
		return fmt.Errorf("ジョブの完了処理に失敗しました: %w", err)
	}
	return nil
}

// Nack はジョブの失敗を記録する。試行回数が残っていれば固定遅延の後の
// 再配信を予約し、使い果たしていればdeadにしてキーを解放する。
func (q *PostgresQueue) Nack(ctx context.Context, d Delivery) error {
	if d.FinalAttempt() {
		_, err := q.db.ExecContext(ctx,
			`UPDATE jobs SET status = 'dead', updated_at = now() WHERE id = $1`,
			d.id,
		)
		if err != nil {
			return fmt.Errorf("ジョブのdead化に失敗しました: %w", err)
		}
		q.logger.Warn("ジョブのリトライを使い果たしました",
			slog.String("queue", string(q.name)),
			slog.String("domain", d.Domain),
			slog.Int("attempts", d.Attempt),
		)
		return nil
	}

	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', next_run_at = now() + $2 * interval '1 second',
		        claimed_at = NULL, updated_at = now()
		 WHERE id = $1`,
		d.id, q.config.RetryDelay.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("ジョブの再スケジュールに失敗しました: %w", err)
	}
	return nil
}

// pollLoop は配信対象ジョブをポーリングし、クレームして配信チャネルへ送る。
// コンテキストのキャンセルで停止する。
func (q *PostgresQueue) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	q.logger.Info("キューのポーリングを開始しました",
		slog.String("queue", string(q.name)),
		slog.Duration("poll_interval", q.config.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("キューのポーリングを停止しました",
				slog.String("queue", string(q.name)),
			)
			return
		case <-ticker.C:
			for {
				d, ok, err := q.claim(ctx)
				if err != nil {
					q.logger.Error("ジョブのクレームに失敗しました",
						slog.String("queue", string(q.name)),
						slog.String("error", err.Error()),
					)
					break
				}
				if !ok {
					break
				}
				select {
				case q.ch <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// claim は配信対象ジョブを1件クレームする。
// queuedで配信時刻を迎えたジョブに加え、可視性タイムアウトを超えて
// runningのまま放置されたジョブ（クラッシュしたワーカーのクレーム）も対象にする。
// FOR UPDATE SKIP LOCKEDにより複数コンシューマ間で行の奪い合いは起きない。
func (q *PostgresQueue) claim(ctx context.Context) (Delivery, bool, error) {
	var d Delivery
	err := q.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'running', attempts = attempts + 1,
		        claimed_at = now(), updated_at = now()
		 WHERE id = (
		     SELECT id FROM jobs
		     WHERE queue_name = $1
		       AND (
		           (status = 'queued' AND next_run_at <= now())
		        OR (status = 'running' AND claimed_at < now() - $2 * interval '1 second')
		       )
		     ORDER BY next_run_at ASC
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING id, domain, attempts, max_attempts`,
		string(q.name), q.config.Visibility.Seconds(),
	).Scan(&d.id, &d.Domain, &d.Attempt, &d.MaxAttempts)

	if err == sql.ErrNoRows {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, fmt.Errorf("配信対象ジョブの取得に失敗しました: %w", err)
	}
	return d, true, nil
}
