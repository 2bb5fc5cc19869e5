package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/domainwatch/internal/model"
)

// MemoryConfig はインメモリキューの設定パラメータ。
type MemoryConfig struct {
	// MaxAttempts はジョブごとのリトライ上限（デフォルト: 3）。
	MaxAttempts int
	// RetryDelay は再配信までの固定遅延（デフォルト: 10秒）。
	RetryDelay time.Duration
	// BufferSize は配信チャネルのバッファサイズ（デフォルト: 256）。
	BufferSize int
}

// DefaultMemoryConfig はインメモリキューのデフォルト設定を返す。
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxAttempts: 3,
		RetryDelay:  10 * time.Second,
		BufferSize:  256,
	}
}

// MemoryQueue はバウンデッドチャネルと重複排除セットによるインプロセスキュー。
// テストおよび単一プロセス構成で使用する。耐久性はないが、
// Queueインターフェースのポリシー（重複排除・リトライ上限・固定遅延）は
// PostgresQueueと同一に振る舞う。
type MemoryQueue struct {
	name   model.QueueName
	config MemoryConfig
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // 未完了ジョブの重複排除キー
	closed  bool

	ch   chan Delivery
	done chan struct{}
}

// NewMemoryQueue はMemoryQueueの新しいインスタンスを生成する。
func NewMemoryQueue(name model.QueueName, config MemoryConfig, logger *slog.Logger) *MemoryQueue {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &MemoryQueue{
		name:    name,
		config:  config,
		logger:  logger,
		pending: make(map[string]struct{}),
		ch:      make(chan Delivery, config.BufferSize),
		done:    make(chan struct{}),
	}
}

// Name はキューの識別名を返す。
func (q *MemoryQueue) Name() model.QueueName {
	return q.name
}

// Enqueue はジョブを投入する。未完了の同一キーのジョブが存在する場合は
// 何もせずfalseを返す。
func (q *MemoryQueue) Enqueue(ctx context.Context, domain string) (bool, error) {
	domain = model.NormalizeDomain(domain)
	key := dedupKey(q.name, domain)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, context.Canceled
	}
	if _, exists := q.pending[key]; exists {
		q.mu.Unlock()
		return false, nil
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	d := Delivery{
		Domain:      domain,
		Attempt:     1,
		MaxAttempts: q.config.MaxAttempts,
	}

	select {
	case q.ch <- d:
		return true, nil
	case <-ctx.Done():
		q.release(key)
		return false, ctx.Err()
	case <-q.done:
		q.release(key)
		return false, context.Canceled
	}
}

// Consume は配信チャネルを返す。
func (q *MemoryQueue) Consume(ctx context.Context) <-chan Delivery {
	return q.ch
}

// Ack はジョブを完了としてキーを解放する。
func (q *MemoryQueue) Ack(ctx context.Context, d Delivery) error {
	q.release(dedupKey(q.name, d.Domain))
	return nil
}

// Nack はジョブの失敗を通知する。試行回数が残っていれば固定遅延の後に
// 再配信し、使い果たしていればキーを解放してdead扱いにする。
func (q *MemoryQueue) Nack(ctx context.Context, d Delivery) error {
	if d.FinalAttempt() {
		q.release(dedupKey(q.name, d.Domain))
		q.logger.Warn("ジョブのリトライを使い果たしました",
			slog.String("queue", string(q.name)),
			slog.String("domain", d.Domain),
			slog.Int("attempts", d.Attempt),
		)
		return nil
	}

	next := Delivery{
		Domain:      d.Domain,
		Attempt:     d.Attempt + 1,
		MaxAttempts: d.MaxAttempts,
	}

	if q.config.RetryDelay <= 0 {
		q.redeliver(next)
		return nil
	}

	time.AfterFunc(q.config.RetryDelay, func() {
		q.redeliver(next)
	})
	return nil
}

// Close はキューを閉じ、以後の投入と再配信を停止する。
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// PendingCount は未完了ジョブ数を返す。テストおよびメトリクス用。
func (q *MemoryQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// redeliver は再試行の配信をチャネルへ送る。キューが閉じられていれば捨てる。
func (q *MemoryQueue) redeliver(d Delivery) {
	select {
	case q.ch <- d:
	case <-q.done:
		q.release(dedupKey(q.name, d.Domain))
	}
}

// release は重複排除キーを解放する。
func (q *MemoryQueue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, key)
}
