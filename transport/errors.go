package transport

import "errors"

var errShortPayload = errors.New("transport: response payload too short")
