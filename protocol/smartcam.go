package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/cloudkucooland/gokasa/transport"
	"github.com/sirupsen/logrus"
)

// forceDoMethods are get*/set*-shaped names that are nonetheless
// dispatched as "do".
var forceDoMethods = map[string]struct{}{
	"getSdCardFormatStatus": {},
}

// SmartCam reshapes single-method requests by name convention
// (get/set/do) on top of the Smart envelope and batching/retry
// semantics.
type SmartCam struct {
	*Smart
}

// NewSmartCam wraps t in the SmartCam protocol.
func NewSmartCam(t transport.Transport, log *logrus.Entry) (*SmartCam, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s, err := NewSmart(t, log.WithField("protocol", "smartcam"))
	if err != nil {
		return nil, err
	}
	return &SmartCam{Smart: s}, nil
}

// Query reshapes every method name by the get/set/do convention, then
// batches/retries/paginates using Smart's shared machinery. Unlike
// Smart, the wire method ("get"/"set"/"do") is not a unique key — two
// different callers can both reshape to "get" — so items are built
// and matched positionally rather than through Smart.Query's
// name-keyed map.
func (p *SmartCam) Query(ctx context.Context, methods map[string]interface{}) (map[string]interface{}, error) {
	if len(methods) == 0 {
		return map[string]interface{}{}, nil
	}
	multi := len(methods) > 1

	p.mu.Lock()
	defer p.mu.Unlock()

	type reshaped struct {
		item    batchItem
		verb    string
		section string
	}
	all := make([]reshaped, 0, len(methods))
	for name, params := range methods {
		verb, section := classifyMethodName(name)
		wireParams := map[string]interface{}{section: params}
		all = append(all, reshaped{item: batchItem{key: name, method: verb, params: wireParams}, verb: verb, section: section})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].item.key < all[j].item.key })

	var single, batchable []reshaped
	for _, r := range all {
		if _, deny := singleOnlyMethods[r.item.key]; deny {
			single = append(single, r)
		} else {
			batchable = append(batchable, r)
		}
	}

	results := make(map[string]interface{}, len(methods))
	runOne := func(r reshaped) error {
		res, err := p.singleRequest(ctx, r.item.method, r.item.params)
		if err != nil {
			if multi {
				results[r.item.key] = errorResult(err)
				return nil
			}
			return err
		}
		validated, err := validateGetSection(r.verb, r.section, res)
		if err != nil {
			if multi {
				results[r.item.key] = errorResult(err)
				return nil
			}
			return err
		}
		results[r.item.key] = validated
		return nil
	}

	for _, r := range single {
		if err := runOne(r); err != nil {
			return nil, err
		}
	}

	for len(batchable) > 0 {
		size := p.batchSize
		if size <= 0 {
			size = 1
		}
		if size > len(batchable) {
			size = len(batchable)
		}
		chunk := batchable[:size]
		batchable = batchable[size:]

		if len(chunk) == 1 {
			if err := runOne(chunk[0]); err != nil {
				return nil, err
			}
			continue
		}

		items := make([]batchItem, len(chunk))
		for i, r := range chunk {
			items[i] = r.item
		}
		chunkResults, err := p.multipleRequestItems(ctx, items)
		if err != nil {
			if multi {
				for _, r := range chunk {
					results[r.item.key] = errorResult(err)
				}
				continue
			}
			return nil, err
		}
		for _, r := range chunk {
			v, ok := chunkResults[r.item.key]
			if !ok {
				continue
			}
			validated, verr := validateGetSection(r.verb, r.section, v)
			if verr != nil {
				results[r.item.key] = errorResult(verr)
				continue
			}
			results[r.item.key] = validated
		}
	}

	return results, nil
}

// validateGetSection enforces that for a get, an empty or missing
// section in the response is an error.
func validateGetSection(verb, section string, res interface{}) (interface{}, error) {
	if verb != "get" {
		return res, nil
	}
	m, ok := res.(map[string]interface{})
	if !ok {
		return nil, kerrors.Internal(fmt.Errorf("smartcam: get response is not an object"))
	}
	v, ok := m[section]
	if !ok {
		return nil, kerrors.Internal(fmt.Errorf("smartcam: get response missing section %q", section))
	}
	if sub, ok := v.(map[string]interface{}); ok && len(sub) == 0 {
		return nil, kerrors.Internal(fmt.Errorf("smartcam: get response section %q is empty", section))
	}
	return v, nil
}

// reshapeRequest implements the camera protocol's method-name
// convention: get*/set* (not force-do) becomes {method:"get"|"set", section:params};
// everything else (do*, or a forced name) becomes {method:"do", section:params}.
// The wire method returned here is the literal "get"/"set"/"do" value;
// the reshaped params carry the snake_cased section under it.
func reshapeRequest(name string, params interface{}) (string, interface{}) {
	verb, section := classifyMethodName(name)
	return verb, map[string]interface{}{section: params}
}

func classifyMethodName(name string) (verb, section string) {
	_, forced := forceDoMethods[name]
	switch {
	case !forced && strings.HasPrefix(name, "get"):
		return "get", snakeCase(name[3:])
	case !forced && strings.HasPrefix(name, "set"):
		return "set", snakeCase(name[3:])
	default:
		return "do", snakeCase(name)
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimPrefix(b.String(), "_")
}

// ControlChild wraps methods for a specific child device in the
// controlChild envelope and unwraps response_data on return. With one
// outstanding method an error raises; with many, per-sub-response
// errors are attributed the same way Smart does for multipleRequest.
func (p *SmartCam) ControlChild(ctx context.Context, deviceID string, methods map[string]interface{}) (map[string]interface{}, error) {
	multi := len(methods) > 1
	out := make(map[string]interface{}, len(methods))

	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		params := methods[name]
		wireMethod, wireParams := reshapeRequest(name, params)
		payload := map[string]interface{}{
			"method": "controlChild",
			"params": map[string]interface{}{
				"childControl": map[string]interface{}{
					"device_id": deviceID,
					"request_data": map[string]interface{}{
						"method": wireMethod,
						"params": wireParams,
					},
				},
			},
		}
		res, err := p.sendControlChild(ctx, payload)
		if err != nil {
			if multi {
				out[name] = errorResult(err)
				continue
			}
			return nil, err
		}
		out[name] = res
	}
	return out, nil
}

func (p *SmartCam) sendControlChild(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	envelope := p.envelope("controlChild", payload["params"])
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smartcam: marshal controlChild: %w", err))
	}

	raw, err := sendWithRetry(ctx, p.transport, body, p.retries, p.log)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			ResponseData json.RawMessage `json:"response_data"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smartcam: decode controlChild response: %w", err))
	}
	if decoded.ErrorCode != 0 {
		return nil, kerrors.FromCode(decoded.ErrorCode, true, "controlChild failed")
	}

	var inner struct {
		ErrorCode int             `json:"error_code"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(decoded.Result.ResponseData, &inner); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smartcam: decode response_data: %w", err))
	}
	if inner.ErrorCode != 0 {
		return nil, kerrors.FromCode(inner.ErrorCode, true, "controlChild request_data failed")
	}
	var val interface{}
	if len(inner.Result) > 0 {
		_ = json.Unmarshal(inner.Result, &val)
	}
	return val, nil
}
