package overlay

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollectorExportsCounters(t *testing.T) {
	connA, _ := net.Pipe()
	sess := newTestSession(t, connA, RoleWeInitiated, sharedTestConfig())
	sess.metrics.LoadShed.Inc(3)

	coll := NewPrometheusCollector(sess)

	ch := make(chan prometheus.Metric, 64)
	coll.Collect(ch)
	close(ch)

	var descs []string
	for m := range ch {
		descs = append(descs, m.Desc().String())
	}
	require.NotEmpty(t, descs, "collector must emit at least one metric once LoadShed has been incremented")
}
