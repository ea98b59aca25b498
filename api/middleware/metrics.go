package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmaretti/storefront/api/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zenazn/goji/web/mutil"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "storefront",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by method and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "status"})

func Metrics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			start := time.Now()
			lw := mutil.WrapWriter(w)

			err := handler(ctx, lw, r)

			status := lw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requestDuration.WithLabelValues(r.Method, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())

			return err
		}
		return h
	}
	return m
}
