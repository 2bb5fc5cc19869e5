// Package queue はドメイン分析ジョブのキューイングを提供する。
// at-least-once配信、重複排除キーによるジョブの畳み込み、
// 上限付きリトライのポリシーをインターフェースとして定義し、
// テスト・単一プロセス用のインメモリ実装と本番用のPostgreSQL耐久実装を含む。
package queue

import (
	"context"

	"github.com/hitoshi/domainwatch/internal/model"
)

// Delivery はコンシューマへの1回のジョブ配信を表す。
// Attemptは1始まり。at-least-once配信のため、同じジョブが
// 複数回配信されることがある。
type Delivery struct {
	Domain      string
	Attempt     int
	MaxAttempts int

	// id は実装固有のジョブ識別子（耐久キューの行ID等）。
	id string
}

// FinalAttempt はこの配信がこのキューでの最後の試行かどうかを返す。
// コンシューマは失敗時にこれを見てターミナル処理（セカンダリキューへの
// エスカレーション等）を行うかを判断する。
func (d Delivery) FinalAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

// Queue はジョブキューのインターフェース。
// 両実装が共有するポリシー:
//   - 投入はDedupKeyで重複排除され、未完了のジョブが残っている間の
//     再投入は何もしない（no-op）
//   - 配信はat-least-once
//   - Nackされたジョブは固定遅延の後に再配信され、MaxAttempts回
//     失敗するとこのキューから見てdeadになり、キーが解放される
type Queue interface {
	// Name はキューの識別名を返す。
	Name() model.QueueName

	// Enqueue はドメインの分析ジョブを投入する。
	// 既存の未完了ジョブに畳み込まれた場合はfalseを返す。
	Enqueue(ctx context.Context, domain string) (bool, error)

	// Consume は配信チャネルを返す。複数のワーカーが同じチャネルを
	// 受信してよい。コンテキストのキャンセルで配信は停止する。
	Consume(ctx context.Context) <-chan Delivery

	// Ack はジョブの完了を通知する。ジョブはキューから取り除かれ、
	// 重複排除キーが解放される。
	Ack(ctx context.Context, d Delivery) error

	// Nack はジョブの失敗を通知する。試行回数が残っていれば固定遅延の後に
	// 再配信し、使い果たしていればジョブをdeadにしてキーを解放する。
	Nack(ctx context.Context, d Delivery) error
}

// dedupKey はこのキューにおけるドメインの重複排除キーを返す。
func dedupKey(name model.QueueName, domain string) string {
	return model.Job{Domain: domain}.DedupKey(name)
}
