package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/dmaretti/storefront/api/web"
	"github.com/sirupsen/logrus"
	"github.com/zenazn/goji/web/mutil"
)

// Logger writes one line when a request starts and one when it
// completes, with the status code and bytes captured off the wrapped
// response writer. Long checkout requests show up here first, so the
// duration is logged in milliseconds.
func Logger(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			log := log

			if rid := ContextRequestID(ctx); rid != "" {
				log = log.WithField("req_id", rid)
			}

			log = log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"remoteaddr": r.RemoteAddr,
			})

			log.Info("started")
			startTime := time.Now().UTC()

			lw := mutil.WrapWriter(w)
			err := handler(ctx, lw, r)

			log = log.WithFields(logrus.Fields{
				"statuscode":  lw.Status(),
				"bytes":       lw.BytesWritten(),
				"duration_ms": time.Since(startTime).Milliseconds(),
			})
			log.Info("completed")
			return err
		}
		return h
	}
	return m
}
