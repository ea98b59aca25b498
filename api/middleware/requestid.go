package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/random"
)

// RequestIDHeader carries an id supplied by an upstream proxy. When
// present it is kept so a shopper's request can be traced across hops.
const RequestIDHeader = "X-Request-Id"

// Inbound ids longer than this are truncated rather than rejected.
const requestIDLengthLimit = 128

type reqIDKeyCtx int

const reqIDKey reqIDKeyCtx = 1

// The prefix is minted once per process so ids from concurrent replicas
// do not collide even though the counter restarts at zero.
var reqPrefix = random.String(10)

var reqID int64

// RequestID stamps every request with an id and stores it in the
// context for the logging and error middleware.
func RequestID() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = fmt.Sprintf("%s-%d", reqPrefix, atomic.AddInt64(&reqID, 1))
			} else if len(id) > requestIDLengthLimit {
				id = id[:requestIDLengthLimit]
			}
			ctx = context.WithValue(ctx, reqIDKey, id)

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// ContextRequestID returns the id stamped by RequestID, or "" when the
// middleware did not run.
func ContextRequestID(ctx context.Context) (reqID string) {
	id := ctx.Value(reqIDKey)
	if id != nil {
		reqID = id.(string)
	}
	return
}
