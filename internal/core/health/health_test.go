package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fixedReporter struct {
	ready bool
	parts []int32
}

func (f fixedReporter) Readiness() (bool, []int32) { return f.ready, f.parts }

func TestReadiness_AllMustBeReady(t *testing.T) {
	cases := []struct {
		name      string
		reporters map[string]ReadinessReporter
		code      int
		status    string
	}{
		{"none", nil, http.StatusOK, `"status":"ready"`},
		{"ready", map[string]ReadinessReporter{"events": fixedReporter{true, []int32{0, 2}}}, http.StatusOK, `"partitions":[0,2]`},
		{"one down", map[string]ReadinessReporter{
			"events":  fixedReporter{false, nil},
			"catalog": fixedReporter{true, nil},
		}, http.StatusServiceUnavailable, `"status":"not_ready"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(c.reporters)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != c.code {
				t.Fatalf("status=%d want %d", rr.Code, c.code)
			}
			if !strings.Contains(rr.Body.String(), c.status) {
				t.Fatalf("body=%s want %s", rr.Body.String(), c.status)
			}
		})
	}
}
