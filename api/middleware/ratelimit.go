package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/api/weberr"
	"github.com/dmaretti/storefront/core/claims"
	"github.com/dmaretti/storefront/rate"
)

// RateLimit throttles a route per shopper. Anonymous requests fall back
// to the remote address as the limiter key.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			key := r.RemoteAddr
			if clm, err := claims.Get(ctx); err == nil {
				key = clm.UserID
			}

			if !lim.Allow(key) {
				return weberr.NewError(
					errors.New("rate limit exceeded"),
					"too many requests, slow down",
					http.StatusTooManyRequests,
				)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
