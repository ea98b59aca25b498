// Package web is the small foundation under every HTTP handler: the
// error-returning Handler signature the middleware chain composes over,
// plus the request decoding and response writing helpers.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler is the signature all route handlers implement. Returning the
// error, instead of writing it, lets the error middleware decide the
// status code and log the failure once.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

type Middleware func(Handler) Handler

// WrapMiddleware composes the chain so that the first middleware in mw
// is the outermost wrapper around handler.
func WrapMiddleware(mw []Middleware, handler Handler) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h := mw[i]
		if h != nil {
			handler = h(handler)
		}
	}

	return handler
}

// Respond marshals data as the JSON response body. A 204 writes the
// status line only.
func Respond(ctx context.Context, w http.ResponseWriter, data interface{}, statusCode int) error {
	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cannot marshal response data: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(jsonData); err != nil {
		return fmt.Errorf("cannot write response data to response writer: %w", err)
	}

	return nil
}

// Decode unmarshals the request body into val. Unknown fields are an
// error so clients notice typos in payload keys, and the body is capped
// at 1MB.
func Decode(w http.ResponseWriter, r *http.Request, val interface{}) error {
	maxBytes := 1048576
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(val); err != nil {
		return err
	}

	return nil
}

// Param returns the named route variable, such as the product id in
// /products/{id}.
func Param(r *http.Request, key string) string {
	m := mux.Vars(r)
	return m[key]
}

// Query returns the named query-string value, "" when absent.
func Query(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}
