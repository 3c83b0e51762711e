package prometrics

import (
	"testing"

	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterRegistersOnceAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "coffeeshop")

	c1 := r.Counter("usecase_requests_total", "help", "use_case", "outcome")
	c2 := r.Counter("usecase_requests_total", "help", "use_case", "outcome")

	c1.Add(1, observability.L("use_case", "order.purchase"), observability.L("outcome", "success"))
	c2.Bind(observability.L("use_case", "order.purchase"), observability.L("outcome", "success")).Add(2)

	n, err := testutil.GatherAndCount(reg, "coffeeshop_usecase_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cv := r.(*registry).counters["usecase_requests_total"]
	assert.InDelta(t, 3, testutil.ToFloat64(cv.WithLabelValues("order.purchase", "success")), 0.0001)
}

func TestStandardProvisionsEveryKey(t *testing.T) {
	counters, histograms := Standard(New(prometheus.NewRegistry(), ""))

	for _, k := range []observability.MetricKey{
		observability.MUsecaseRequests, observability.MHTTPRequests,
		observability.MExternalRequests, observability.MStockInsufficient,
	} {
		assert.NotNil(t, counters[k], k)
	}
	for _, k := range []observability.MetricKey{
		observability.MUsecaseDuration, observability.MHTTPRequestDuration, observability.MExternalRequestDuration,
	} {
		assert.NotNil(t, histograms[k], k)
	}
}
