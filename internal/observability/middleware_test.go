package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/danmuck/scenecast/internal/testutil/testlog"
)

func TestMiddlewareLogsAndCountsByRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var out bytes.Buffer
	logger := zerolog.New(&out)

	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware("mw-test"))
	r.GET("/nodes/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/nodes/1", "/nodes/2", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/nodes/:id", "404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "unmatched", "404")))
	assert.Contains(t, out.String(), `"level":"warn"`)
	assert.Contains(t, out.String(), `"path":"/nodes/:id"`)
}
