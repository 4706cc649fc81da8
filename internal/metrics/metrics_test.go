package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.APIAttempt("/referral/rewards?app_user_id=a&product_id=p", "error")
	m.APIAttempt("/referral/rewards", "error")
	m.Report("sent")
	m.Skipped("duplicate")
	m.Skipped("duplicate")
	m.Redemption("confirmed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.apiAttempts.WithLabelValues("/referral/rewards", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skipped.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redemptions.WithLabelValues("confirmed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.APIAttempt("/referral/key", "ok")
		m.Report("sent")
		m.Skipped("unregistered")
		m.Redemption("signed")
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteText(&bytes.Buffer{}))
}

func TestMetrics_WriteText(t *testing.T) {
	m := New()
	m.Report("failed")

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), `referral_attribution_reports_total{outcome="failed"} 1`)
}
