package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordCommand("rebalance", "ok")
	r.RecordCommand("rebalance", "ok")
	r.RecordInstruction("send", "sscrt")
	r.RecordReconciliation("sscrt", -12)
	r.RecordError("publish")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.commandsTotal.WithLabelValues("rebalance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instructionsTotal.WithLabelValues("send", "sscrt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconciled.WithLabelValues("sscrt", "loss")))
	assert.Equal(t, -12.0, testutil.ToFloat64(r.lastDrift.WithLabelValues("sscrt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("publish")))
}
