package model

// QueueName はジョブキューの識別名。
type QueueName string

const (
	// QueueAnalyze はプライマリキュー。新規投入とスイープによる再投入を受け付ける。
	QueueAnalyze QueueName = "analyze"
	// QueueFailedAnalyze はセカンダリキュー。プライマリキューのリトライを
	// 使い果たしたジョブが独立したリトライサイクルのために送られる。
	QueueFailedAnalyze QueueName = "failedAnalyze"
)

// Job は1つのドメインの分析を要求するイミュータブルな作業単位。
type Job struct {
	Domain string `json:"domain"`
}

// DedupKey はキュー内でジョブを重複排除するための決定的なキーを返す。
// 同一ドメインへの複数回の投入は、未完了のジョブが残っている間は
// 同じキーに畳み込まれる。
func (j Job) DedupKey(queue QueueName) string {
	return string(queue) + ":" + NormalizeDomain(j.Domain)
}
