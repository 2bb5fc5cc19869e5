package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// --- モック定義 ---

// mockLookup はThreatLookup/RegistrationLookupのテスト用モック。
type mockLookup struct {
	lookupFunc func(ctx context.Context, domain string) (json.RawMessage, error)
}

func (m *mockLookup) Lookup(ctx context.Context, domain string) (json.RawMessage, error) {
	if m.lookupFunc != nil {
		return m.lookupFunc(ctx, domain)
	}
	return json.RawMessage(`{}`), nil
}

// 両ルックアップの結果が結合されることを検証
func TestAnalyzer_CombinesBothLookups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	threat := &mockLookup{lookupFunc: func(ctx context.Context, domain string) (json.RawMessage, error) {
		return json.RawMessage(`{"detections": 40}`), nil
	}}
	registration := &mockLookup{lookupFunc: func(ctx context.Context, domain string) (json.RawMessage, error) {
		return json.RawMessage(`{"ownerName": "Example Corp"}`), nil
	}}

	a := NewAnalyzer(threat, registration, logger)
	result, err := a.Analyze(context.Background(), "evil-example.com")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.Domain != "evil-example.com" {
		t.Errorf("result.Domain = %q", result.Domain)
	}
	if string(result.ThreatData) != `{"detections": 40}` {
		t.Errorf("result.ThreatData = %s", result.ThreatData)
	}
	if string(result.RegistrationData) != `{"ownerName": "Example Corp"}` {
		t.Errorf("result.RegistrationData = %s", result.RegistrationData)
	}
	if result.CompletedAt.IsZero() {
		t.Error("result.CompletedAt should be set")
	}
}

// ドメインが小文字に正規化されてルックアップに渡されることを検証
func TestAnalyzer_NormalizesDomain(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var gotDomain string
	threat := &mockLookup{lookupFunc: func(ctx context.Context, domain string) (json.RawMessage, error) {
		gotDomain = domain
		return json.RawMessage(`{}`), nil
	}}

	a := NewAnalyzer(threat, &mockLookup{}, logger)
	if _, err := a.Analyze(context.Background(), "Example.COM"); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if gotDomain != "example.com" {
		t.Errorf("lookup received %q, want %q", gotDomain, "example.com")
	}
}

// 脅威ルックアップの失敗で分析全体が失敗することを検証
func TestAnalyzer_ThreatFailureFailsAnalysis(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	threat := &mockLookup{lookupFunc: func(ctx context.Context, domain string) (json.RawMessage, error) {
		return nil, errors.New("HTTP 500")
	}}

	a := NewAnalyzer(threat, &mockLookup{}, logger)
	if _, err := a.Analyze(context.Background(), "example.com"); err == nil {
		t.Fatal("expected error when threat lookup fails")
	}
}

// 登録情報ルックアップの失敗で分析全体が失敗することを検証
func TestAnalyzer_RegistrationFailureFailsAnalysis(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	registration := &mockLookup{lookupFunc: func(ctx context.Context, domain string) (json.RawMessage, error) {
		return nil, errors.New("malformed response")
	}}

	a := NewAnalyzer(&mockLookup{}, registration, logger)
	if _, err := a.Analyze(context.Background(), "example.com"); err == nil {
		t.Fatal("expected error when registration lookup fails")
	}
}

// 2つのルックアップが並行実行されることを検証
func TestAnalyzer_LookupsRunConcurrently(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	started := make(chan struct{}, 2)
	proceed := make(chan struct{})

	slow := func(ctx context.Context, domain string) (json.RawMessage, error) {
		started <- struct{}{}
		select {
		case <-proceed:
			return json.RawMessage(`{}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a := NewAnalyzer(&mockLookup{lookupFunc: slow}, &mockLookup{lookupFunc: slow}, logger)

	done := make(chan error, 1)
	go func() {
		_, err := a.Analyze(context.Background(), "example.com")
		done <- err
	}()

	// 両方のルックアップが同時に開始していることを確認してから進行させる
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("lookups did not start concurrently")
		}
	}
	close(proceed)

	if err := <-done; err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
}

// 呼び出し側のコンテキストがルックアップまで伝播し、
// キャンセルで分析が中断されることを検証
func TestAnalyzer_ContextCancellationPropagates(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	blocking := &mockLookup{lookupFunc: func(ctx context.Context, domain string) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	a := NewAnalyzer(blocking, &mockLookup{}, logger)

	done := make(chan error, 1)
	go func() {
		_, err := a.Analyze(ctx, "example.com")
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Analyze did not return after cancellation")
	}
}
