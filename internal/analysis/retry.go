package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig は外部ルックアップ1回あたりのローカルリトライ設定。
// キューレベルのリトライ上限とは独立で、その内側にネストする。
type RetryConfig struct {
	// MaxAttempts は試行回数の上限（デフォルト: 5）。
	MaxAttempts int
	// DelayUnit は試行ごとの遅延の単位。n回目の失敗後は n × DelayUnit 待つ
	// （デフォルト: 500ms）。
	DelayUnit time.Duration
	// Timeout は1試行あたりの上限時間。試行ごとに新しいデッドラインが
	// 設定されるため、タイムアウトした試行も残りの試行回数を消費しない
	// （デフォルト: 5秒。0以下の場合は試行ごとのデッドラインを設定しない）。
	Timeout time.Duration
}

// DefaultRetryConfig はデフォルトのリトライ設定を返す。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		DelayUnit:   500 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

// transientError はリトライ対象の一時的な失敗を表す。
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// markTransient はエラーを一時的な失敗としてマークする。
func markTransient(err error) error {
	return &transientError{err: err}
}

// IsTransient はエラーが一時的な失敗（リトライ対象）かどうかを返す。
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// IsTransientStatus はHTTPステータスコードが一時的な失敗に分類されるかを返す。
// 接続エラーと429/500/502/503/504をリトライ対象とし、
// それ以外の4xx等は即座に失敗させる。
func IsTransientStatus(statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// doWithRetry はcallを一時的な失敗に限りリトライ付きで実行する。
// 各試行はTimeoutを上限とする独立したデッドラインの下で実行され、
// n回目の失敗後は n × DelayUnit 待ってから次を試行する。
// 恒久的な失敗は即座に返し、コンテキストのキャンセルで中断する。
func doWithRetry(ctx context.Context, logger *slog.Logger, name string, config RetryConfig, call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := doAttempt(ctx, config.Timeout, call)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(attempt) * config.DelayUnit
		logger.Warn("一時的な失敗のためルックアップをリトライします",
			slog.String("lookup", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%sルックアップのリトライを使い果たしました: %w", name, lastErr)
}

// doAttempt はcallを1回、試行専用のデッドラインの下で実行する。
func doAttempt(ctx context.Context, timeout time.Duration, call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if timeout > 0 {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return call(attemptCtx)
	}
	return call(ctx)
}
