package weberr

import (
	"net/http"
)

// ErrorResponse is the JSON body of every error status this API writes.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestError is the cause behind a client-facing error. The wrapped
// error goes to the log; only the message passed to NewError reaches
// the client.
type RequestError struct {
	Err error
}

func (r *RequestError) Error() string { return r.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// NewError builds an error that responds with msg and status.
func NewError(err error, msg string, status int, opts ...Opt) error {
	e := &RequestError{Err: err}
	opts = append(opts, WithResponse(
		&ErrorResponse{msg},
		status,
	))

	return Wrap(e, opts...)
}

func NotFound(err error, opts ...Opt) error {
	return NewError(
		err,
		"the resource could not be found",
		http.StatusNotFound,
		opts...,
	)
}

func NotAuthorized(err error, opts ...Opt) error {
	return NewError(
		err,
		"not authorized to access resource",
		http.StatusUnauthorized,
		opts...,
	)
}

func InternalError(err error, opts ...Opt) error {
	return NewError(
		err,
		"the server encountered a problem and could not process your request",
		http.StatusInternalServerError,
		opts...,
	)
}

func BadRequest(err error, opts ...Opt) error {
	return NewError(
		err,
		"bad request",
		http.StatusBadRequest,
		opts...,
	)
}

// Conflict reports that the request clashes with current state, such as
// starting a checkout while one is already in flight. The cause's
// message is returned so the client can tell which conflict it hit.
func Conflict(err error, opts ...Opt) error {
	return NewError(
		err,
		err.Error(),
		http.StatusConflict,
		opts...,
	)
}

// Unprocessable reports a request that is well formed but cannot be
// acted on, such as checking out an empty cart.
func Unprocessable(err error, opts ...Opt) error {
	return NewError(
		err,
		err.Error(),
		http.StatusUnprocessableEntity,
		opts...,
	)
}
