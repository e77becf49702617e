// Package metrics owns the Prometheus registry served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geo-udf/internal/core/observability"
)

type Config struct {
	Version string
	// Runtime adds the Go and process collectors.
	Runtime bool
}

type Provider struct {
	reg *prometheus.Registry
}

// Init builds a fresh registry and registers the service collectors on it.
// Call it once per process, before serving.
func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	if cfg.Runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	observability.Init(reg)
	observability.ExposeBuildInfo(cfg.Version)
	return &Provider{reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
