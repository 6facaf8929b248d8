package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsolatedRegistries(t *testing.T) {
	// two runs in one process must not collide on registration
	a := New()
	b := New()

	a.RecordsRead.WithLabelValues("rate").Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.RecordsRead.WithLabelValues("rate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RecordsRead.WithLabelValues("rate")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Conflicts.WithLabelValues("rate", "overlap").Inc()
	m.RecordsWritten.WithLabelValues("magnitude").Add(7)

	path := filepath.Join(t.TempDir(), "vmdb.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `vmdb_conflicts_total{normalizer="rate",reason="overlap"} 1`)
	assert.Contains(t, string(data), `vmdb_records_written_total{normalizer="magnitude"} 7`)
}
