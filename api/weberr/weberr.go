// Package weberr decorates errors with the HTTP response they should
// produce and with fields for the error log. Handlers wrap and return;
// the error middleware unwraps and writes.
package weberr

// Opt decorates an error with response or logging behavior.
type Opt func(error) error

// Wrap applies the given options to err in order.
func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

// WithResponse sets the body and status the middleware writes for this
// error instead of the generic 500.
func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

// WithFields attaches structured fields to the error log entry.
func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}
