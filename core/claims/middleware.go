package claims

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/dmaretti/storefront/api/web"
	"github.com/dmaretti/storefront/validate"
)

const sessionUserKey = "user_id"

// Identify resolves the shopper behind the request. A returning session
// keeps its id; a fresh one is minted a guest id on the spot.
func Identify(sm *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			id := sm.GetString(ctx, sessionUserKey)
			guest := false
			if id == "" {
				id = validate.GenerateID()
				sm.Put(ctx, sessionUserKey, id)
				guest = true
			}

			ctx = Set(ctx, Claims{UserID: id, Guest: guest})
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
