package source

import "errors"

var (
	ErrEmptyURL          = errors.New("source url is empty")
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	ErrClosed            = errors.New("source closed")
)
