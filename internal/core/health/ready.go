package health

import (
	"encoding/json"
	"net/http"
	"slices"
)

// ReadinessReporter is implemented by background components that must be
// running before the process takes traffic. The kafka eviction runner
// reports its assigned partitions.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type check struct {
	Name       string  `json:"name"`
	Ready      bool    `json:"ready"`
	Partitions []int32 `json:"partitions,omitempty"`
}

// Readiness is ready only when every named reporter is.
func Readiness(reporters map[string]ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string  `json:"status"`
			Checks []check `json:"checks,omitempty"`
		}
		out := resp{Status: "ready"}
		for _, name := range sortedNames(reporters) {
			ready, parts := reporters[name].Readiness()
			c := check{Name: name, Ready: ready}
			if ready {
				c.Partitions = parts
			} else {
				out.Status = "not_ready"
			}
			out.Checks = append(out.Checks, c)
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func sortedNames(m map[string]ReadinessReporter) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
