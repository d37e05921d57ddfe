package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue は指定メトリクスのカウンタ値を取得する。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			var total float64
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordReleasesDetected_AddsCount はリリース検出カウンタが加算されることを検証する。
func TestRecordReleasesDetected_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReleasesDetected(3)
	c.RecordReleasesDetected(2)

	if got := counterValue(t, reg, "relwatch_releases_detected_total"); got != 5 {
		t.Errorf("releases_detected_total = %v, want 5", got)
	}
}

// TestRecordClaims_TracksWonAndConflict はクレームの獲得と競合が別々に記録されることを検証する。
func TestRecordClaims_TracksWonAndConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordClaimWon()
	c.RecordClaimWon()
	c.RecordClaimConflict()

	if got := counterValue(t, reg, "relwatch_claims_won_total"); got != 2 {
		t.Errorf("claims_won_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "relwatch_claim_conflicts_total"); got != 1 {
		t.Errorf("claim_conflicts_total = %v, want 1", got)
	}
}

// TestRecordAnalysisOutcome_LabelsByOutcome は解析結果がラベル別に記録されることを検証する。
func TestRecordAnalysisOutcome_LabelsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalysisOutcome("done")
	c.RecordAnalysisOutcome("done")
	c.RecordAnalysisOutcome("failed")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() != "relwatch_analysis_outcomes_total" {
			continue
		}
		if len(mf.GetMetric()) != 2 {
			t.Fatalf("expected 2 labeled metrics, got %d", len(mf.GetMetric()))
		}
		for _, m := range mf.GetMetric() {
			label := m.GetLabel()[0].GetValue()
			val := m.GetCounter().GetValue()
			switch label {
			case "done":
				if val != 2 {
					t.Errorf("outcome=done = %v, want 2", val)
				}
			case "failed":
				if val != 1 {
					t.Errorf("outcome=failed = %v, want 1", val)
				}
			default:
				t.Errorf("unexpected label: %s", label)
			}
		}
		return
	}
	t.Error("relwatch_analysis_outcomes_total metric not found")
}

// TestRecordSummarizeLatency_ObservesHistogram は要約レイテンシが記録されることを検証する。
func TestRecordSummarizeLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSummarizeLatency(1500 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() == "relwatch_summarize_latency_seconds" {
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 1 {
				t.Errorf("sample count = %d, want 1", h.GetSampleCount())
			}
			if h.GetSampleSum() < 1.4 || h.GetSampleSum() > 1.6 {
				t.Errorf("sample sum = %v, want ~1.5", h.GetSampleSum())
			}
			return
		}
	}
	t.Error("relwatch_summarize_latency_seconds metric not found")
}

// TestHandler_ServesMetrics は/metricsハンドラーがメトリクスを出力することを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordNotificationsEmitted(1)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "relwatch_notifications_emitted_total 1") {
		t.Error("scrape output should contain relwatch_notifications_emitted_total")
	}
}
