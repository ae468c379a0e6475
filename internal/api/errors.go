package api

import "errors"

var ErrMalformedRequest = errors.New("malformed_request")

type malformedRequestError struct {
	msg string
}

func (e malformedRequestError) Error() string {
	return e.msg
}

func (e malformedRequestError) Unwrap() error {
	return ErrMalformedRequest
}

func newMalformed(msg string) error {
	return malformedRequestError{msg: msg}
}
