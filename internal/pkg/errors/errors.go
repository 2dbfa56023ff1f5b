package errors

import "errors"

var (
	ErrInvalid             = errors.New("invalid")
	ErrUnsupportedFile     = errors.New("unsupported file type")
	ErrUpstreamUnavailable = errors.New("upstream model unavailable")
)

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid) || errors.Is(err, ErrUnsupportedFile)
}

func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
