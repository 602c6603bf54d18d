package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	ObserveHTTP("/analyze-image", 200)
	ObserveHTTP("/analyze-image", 200)
	ObserveUpstream("m", "success", 150*time.Millisecond)
	IncShape("output_text")
	InflightInc("m")
	InflightInc("m")
	InflightDec("m")

	assert.Equal(t, 2.0, testutil.ToFloat64(httpRequests.WithLabelValues("/analyze-image", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(upstreamReqs.WithLabelValues("m", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(extractedShapes.WithLabelValues("output_text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(inflight.WithLabelValues("m")))
}
