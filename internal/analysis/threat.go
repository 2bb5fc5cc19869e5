package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// ThreatClient は脅威インテリジェンスプロバイダのクライアント。
// ドメインごとの検出情報を GET {base}/{domain} で取得する。
type ThreatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
	retry      RetryConfig
}

// NewThreatClient はThreatClientの新しいインスタンスを生成する。
func NewThreatClient(httpClient *http.Client, baseURL, apiKey string, logger *slog.Logger, retry RetryConfig) *ThreatClient {
	return &ThreatClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
		retry:      retry,
	}
}

// Lookup はドメインの脅威情報を取得する。
// 一時的な失敗（接続エラー、429/5xx）はローカルにリトライし、
// それ以外の失敗は即座に返す。
func (c *ThreatClient) Lookup(ctx context.Context, domain string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("脅威インテリジェンスAPIが設定されていません")
	}

	return doWithRetry(ctx, c.logger, "threat", c.retry, func(ctx context.Context) ([]byte, error) {
		reqURL := c.baseURL + "/" + url.PathEscape(domain)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("x-apikey", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// 接続エラーとタイムアウトはリトライ対象
			return nil, markTransient(fmt.Errorf("脅威ルックアップのリクエストに失敗しました: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("脅威ルックアップがHTTP %dを返しました", resp.StatusCode)
			if IsTransientStatus(resp.StatusCode) {
				return nil, markTransient(err)
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, markTransient(fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err))
		}
		if !json.Valid(body) {
			// 不正なレスポンスは恒久的な失敗として即座に返す
			return nil, fmt.Errorf("脅威ルックアップのレスポンスが不正なJSONです")
		}
		return body, nil
	})
}
