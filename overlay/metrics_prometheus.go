package overlay

import (
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes the overlay.* go-metrics registry through the
// standard prometheus.Collector interface, so a process that already runs a
// Prometheus exporter for everything else doesn't need a second scrape path
// just for this core. Wiring it is optional: nothing in the overlay core
// depends on it being registered.
type PrometheusCollector struct {
	registry gometrics.Registry
}

// NewPrometheusCollector wraps one session's metrics registry for export via
// prometheus.Registry.Register.
func NewPrometheusCollector(session *PeerSession) *PrometheusCollector {
	return &PrometheusCollector{registry: session.metrics.registry}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamically named, so nothing is pre-declared; Collect emits
	// unchecked descs, which prometheus.Collector permits.
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(name string, i interface{}) {
		fqName := "overlay_" + sanitizePrometheusName(name)
		switch v := i.(type) {
		case gometrics.Counter:
			desc := prometheus.NewDesc(fqName, name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v.Count()))
		case gometrics.Meter:
			desc := prometheus.NewDesc(fqName, name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v.Count()))
		case gometrics.Timer:
			desc := prometheus.NewDesc(fqName+"_seconds", name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v.Mean()/1e9)
		}
	})
}

func sanitizePrometheusName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			out[i] = b
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
