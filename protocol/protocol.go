// Package protocol implements the three request/response dialects
// layered on top of a transport.Transport: the legacy IoT JSON
// command set, the Smart JSON-RPC envelope with batching and
// pagination, and the SmartCam method-name-convention variant of
// Smart. Protocol selection (family, encryption, https) -> (Protocol,
// Transport) lives in select.go.
package protocol

import "context"

// Protocol sends a logical request (already split into method/params
// by the caller) and returns the decoded result. Each concrete type
// owns its own request envelope, batching, and retry policy; callers
// never see the wire bytes.
type Protocol interface {
	// Query runs one or more named methods against the device and
	// returns their results keyed by method name.
	Query(ctx context.Context, methods map[string]interface{}) (map[string]interface{}, error)
	Close() error
}

// DefaultRetries is the outer retry budget query() gets: three
// attempts total.
const DefaultRetries = 3
