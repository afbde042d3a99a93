package codec

import "errors"

var (
	errEmptyPadding   = errors.New("codec: empty pkcs7 payload")
	errInvalidPadding = errors.New("codec: invalid pkcs7 padding")
)
