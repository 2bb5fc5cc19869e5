package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue はレジストリから指定メトリクスの現在値を取得する。
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// TestCollector_RecordAnalyzeSuccess は分析成功カウンタの増加を検証する。
func TestCollector_RecordAnalyzeSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalyzeSuccess("example.com")
	c.RecordAnalyzeSuccess("example.org")

	if got := counterValue(t, reg, "domainwatch_analyze_success_total", nil); got != 2 {
		t.Errorf("analyze_success_total = %v, want 2", got)
	}
}

// TestCollector_RecordAnalyzeFailure は分析失敗カウンタの増加を検証する。
func TestCollector_RecordAnalyzeFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalyzeFailure("example.com", "timeout")

	if got := counterValue(t, reg, "domainwatch_analyze_fail_total", nil); got != 1 {
		t.Errorf("analyze_fail_total = %v, want 1", got)
	}
}

// TestCollector_RecordEscalation はエスカレーションカウンタの増加を検証する。
func TestCollector_RecordEscalation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEscalation("example.com")

	if got := counterValue(t, reg, "domainwatch_escalations_total", nil); got != 1 {
		t.Errorf("escalations_total = %v, want 1", got)
	}
}

// TestCollector_RecordSweepEnqueued はスイープ再投入数の加算を検証する。
func TestCollector_RecordSweepEnqueued(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSweepEnqueued(100)
	c.RecordSweepEnqueued(50)

	if got := counterValue(t, reg, "domainwatch_sweep_enqueued_total", nil); got != 150 {
		t.Errorf("sweep_enqueued_total = %v, want 150", got)
	}
}

// TestCollector_RecordHTTPStatus はステータスコード別カウンタの増加を検証する。
func TestCollector_RecordHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(502)

	if got := counterValue(t, reg, "domainwatch_http_status_total", map[string]string{"status_code": "200"}); got != 2 {
		t.Errorf("http_status_total{200} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "domainwatch_http_status_total", map[string]string{"status_code": "502"}); got != 1 {
		t.Errorf("http_status_total{502} = %v, want 1", got)
	}
}

// TestCollector_RecordAnalyzeLatency はレイテンシヒストグラムの観測を検証する。
func TestCollector_RecordAnalyzeLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalyzeLatency(150 * time.Millisecond)
	c.RecordAnalyzeLatency(2 * time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != "domainwatch_analyze_latency_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if got := m.GetHistogram().GetSampleCount(); got != 2 {
				t.Errorf("latency sample count = %d, want 2", got)
			}
			return
		}
	}
	t.Error("domainwatch_analyze_latency_seconds not found in registry")
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
	var _ MetricsCollector = Noop{}
}

// TestNewCollector_MetricNames は登録されたメトリクス名のプレフィックスを検証する。
func TestNewCollector_MetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAnalyzeSuccess("example.com")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "domainwatch_") {
			t.Errorf("metric %q should have domainwatch_ prefix", mf.GetName())
		}
	}
}
