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

// RegistrationClient はドメイン登録情報（WHOIS相当）プロバイダのクライアント。
// GET {base}?domainName={domain}&outputFormat=JSON で登録レコードを取得する。
type RegistrationClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
	retry      RetryConfig
}

// NewRegistrationClient はRegistrationClientの新しいインスタンスを生成する。
func NewRegistrationClient(httpClient *http.Client, baseURL, apiKey string, logger *slog.Logger, retry RetryConfig) *RegistrationClient {
	return &RegistrationClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
		retry:      retry,
	}
}

// Lookup はドメインの登録情報を取得する。
// プロバイダが未設定の場合は空のペイロードを返す（登録情報はオプション扱い）。
// 一時的な失敗はローカルにリトライし、それ以外は即座に返す。
func (c *RegistrationClient) Lookup(ctx context.Context, domain string) (json.RawMessage, error) {
	if c.baseURL == "" || c.apiKey == "" {
		c.logger.Debug("登録情報プロバイダが未設定のため空のペイロードを返します",
			slog.String("domain", domain),
		)
		return json.RawMessage(`{}`), nil
	}

	return doWithRetry(ctx, c.logger, "registration", c.retry, func(ctx context.Context) ([]byte, error) {
		reqURL, err := url.Parse(c.baseURL)
		if err != nil {
			return nil, fmt.Errorf("登録情報APIのURLのパースに失敗しました: %w", err)
		}
		q := reqURL.Query()
		q.Set("domainName", domain)
		q.Set("outputFormat", "JSON")
		reqURL.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, markTransient(fmt.Errorf("登録情報ルックアップのリクエストに失敗しました: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("登録情報ルックアップがHTTP %dを返しました", resp.StatusCode)
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
			return nil, fmt.Errorf("登録情報ルックアップのレスポンスが不正なJSONです")
		}
		return body, nil
	})
}
