package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/danmuck/scenecast/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("wall-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrame("wall-a", DirectionEncode, "diff", 3, 64, 80*time.Microsecond)
	RecordFrame("wall-a", DirectionEncode, "diff", 2, 16, 40*time.Microsecond)
	RecordReplicationError("wall-a", "desync")
	SetConsumers("wall-a", 4)

	assert.Equal(t, float64(2), testutil.ToFloat64(replicationFrames.WithLabelValues("wall-a", DirectionEncode, "diff")))
	assert.Equal(t, float64(80), testutil.ToFloat64(replicationBytes.WithLabelValues("wall-a", DirectionEncode, "diff")))
	assert.Equal(t, float64(5), testutil.ToFloat64(replicationRecords.WithLabelValues("wall-a", DirectionEncode, "diff")))
	assert.Equal(t, float64(1), testutil.ToFloat64(replicationErrors.WithLabelValues("wall-a", "desync")))
	assert.Equal(t, float64(4), testutil.ToFloat64(sessionConsumers.WithLabelValues("wall-a")))
}
