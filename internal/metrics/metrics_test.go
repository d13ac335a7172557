package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordOperation("login", StatusSuccess)
	m.RecordOperation("login", StatusSuccess)
	m.RecordOperation("login", StatusRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("login", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("login", StatusRejected)))
}

func TestRecordResetNotification(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordResetNotification(StatusError)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResetsDispatched.WithLabelValues(StatusError)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("login", StatusSuccess)
		m.RecordResetNotification(StatusSuccess)
	})
}

func TestNewRegistry(t *testing.T) {
	reg, m := NewRegistry()
	require.NotNil(t, m)

	m.RecordOperation("register", StatusSuccess)
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["identity_account_operations_total"])
	assert.True(t, names["go_goroutines"])
}
