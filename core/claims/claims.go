// Package claims carries the shopper identity through the request
// context. There is no account system here: identity is the scs session,
// and first-time visitors get a generated guest id so their cart has a
// stable key.
package claims

import (
	"context"
	"errors"
)

type Claims struct {
	UserID string
	Guest  bool
}

type ctxKey int

const claimsKey ctxKey = 1

func Set(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func Get(ctx context.Context) (Claims, error) {
	v, ok := ctx.Value(claimsKey).(Claims)
	if !ok {
		return Claims{}, errors.New("claim value missing from context")
	}
	return v, nil
}
