package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the named counter, selecting the series
// whose labels contain label=value when label is set.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetch(nil, false)
	c.RecordFetch(nil, false)
	c.RecordFetch(errors.New("timeout"), false)
	c.RecordFetch(errors.New("bad xml"), true)
	c.RecordNotifications(3)
	c.RecordRefresh(time.Second, nil)
	c.RecordRefresh(time.Second, errors.New("1 feed failed"))

	tests := []struct {
		name   string
		metric string
		label  string
		value  string
		want   float64
	}{
		{name: "fetch success", metric: "rss_reader_feed_fetch_success_total", want: 2},
		{name: "fetch failure", metric: "rss_reader_feed_fetch_failure_total", want: 2},
		{name: "parse failure", metric: "rss_reader_feed_parse_failure_total", want: 1},
		{name: "notifications", metric: "rss_reader_notifications_scheduled_total", want: 3},
		{name: "refresh success", metric: "rss_reader_refresh_runs_total", label: "outcome", value: "success", want: 1},
		{name: "refresh failure", metric: "rss_reader_refresh_runs_total", label: "outcome", value: "failure", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := counterValue(t, reg, tt.metric, tt.label, tt.value)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordNotifications(1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(rec.Body.String(), "rss_reader_notifications_scheduled_total 1") {
		t.Errorf("metric not exposed:\n%s", rec.Body.String())
	}
}
