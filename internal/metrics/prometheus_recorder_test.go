package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration(ComponentBuild, "configure", 150*time.Millisecond)
	pr.IncOutcome(ComponentBuild, OutcomeSuccess)
	pr.IncRetry(ComponentProvision, "insecure_tls")
	pr.IncStrategy(ComponentFetch, "sparse")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 4)
}

func TestWriteTextfile(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncOutcome(ComponentFetch, OutcomeFailed)

	path := filepath.Join(t.TempDir(), "cppdev.prom")
	require.NoError(t, pr.WriteTextfile(path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(contents), `cppdev_job_outcomes_total{component="fetch",outcome="failed"} 1`))
}

func TestNoopAndNilSafety(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncOutcome(ComponentBuild, OutcomeFailed)
	pr.ObserveStageDuration(ComponentBuild, "compile", time.Second)

	r := OrNoop(nil)
	r.IncRetry(ComponentProvision, "remove")
	require.IsType(t, NoopRecorder{}, r)
}
