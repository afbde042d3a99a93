package protocol

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudkucooland/gokasa/deviceconfig"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/cloudkucooland/gokasa/transport"
	"github.com/sirupsen/logrus"
)

// singleOnlyMethods are never folded into a multipleRequest batch,
// even when other methods are being batched alongside them.
var singleOnlyMethods = map[string]struct{}{
	"getConnectStatus": {},
	"scanApList":       {},
}

// Smart speaks the JSON-RPC-shaped envelope with batching and
// pagination.
type Smart struct {
	transport    transport.Transport
	terminalUUID string
	retries      int
	log          *logrus.Entry

	mu        sync.Mutex
	batchSize int
}

// NewSmart wraps t in the Smart protocol, generating a fresh
// terminal_uuid for the lifetime of this instance.
func NewSmart(t transport.Transport, log *logrus.Entry) (*Smart, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	uuid, err := newTerminalUUID()
	if err != nil {
		return nil, err
	}
	return &Smart{
		transport:    t,
		terminalUUID: uuid,
		retries:      DefaultRetries,
		batchSize:    deviceconfig.DefaultBatchSize,
		log:          log.WithField("protocol", "smart"),
	}, nil
}

func newTerminalUUID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", kerrors.Internal(fmt.Errorf("smart: generate terminal_uuid: %w", err))
	}
	sum := md5.Sum(buf)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// Query runs the named methods, batching everything not in
// singleOnlyMethods into multipleRequest chunks of the (possibly
// demoted) batch size, and paginates any result shaped like a page.
func (p *Smart) Query(ctx context.Context, methods map[string]interface{}) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(methods) == 0 {
		return map[string]interface{}{}, nil
	}
	multi := len(methods) > 1

	var single, batchable []string
	for name := range methods {
		if _, deny := singleOnlyMethods[name]; deny {
			single = append(single, name)
		} else {
			batchable = append(batchable, name)
		}
	}
	sort.Strings(single)
	sort.Strings(batchable)

	results := make(map[string]interface{}, len(methods))

	for _, name := range single {
		res, err := p.singleRequest(ctx, name, methods[name])
		if err != nil {
			if multi {
				results[name] = errorResult(err)
				continue
			}
			return nil, err
		}
		results[name] = res
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

		var chunkResults map[string]interface{}
		var err error
		if len(chunk) == 1 {
			// No point wrapping a single method in multipleRequest.
			var res interface{}
			res, err = p.singleRequest(ctx, chunk[0], methods[chunk[0]])
			if err == nil {
				chunkResults = map[string]interface{}{chunk[0]: res}
			}
		} else {
			chunkResults, err = p.multipleRequest(ctx, chunk, methods)
		}
		if err != nil {
			if multi {
				for _, name := range chunk {
					results[name] = errorResult(err)
				}
				continue
			}
			return nil, err
		}
		for name, v := range chunkResults {
			results[name] = v
		}
	}

	for name, res := range results {
		page, ok := res.(map[string]interface{})
		if !ok {
			continue
		}
		if _, paged := paginationArrayKey(page); !paged {
			continue
		}
		full, err := p.paginate(ctx, name, methods[name], page)
		if err != nil {
			if multi {
				results[name] = errorResult(err)
				continue
			}
			return nil, err
		}
		results[name] = full
	}

	return results, nil
}

func (p *Smart) singleRequest(ctx context.Context, method string, params interface{}) (interface{}, error) {
	payload, err := json.Marshal(p.envelope(method, params))
	if err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smart: marshal %s: %w", method, err))
	}

	raw, err := sendWithRetry(ctx, p.transport, payload, p.retries, p.log)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		ErrorCode int             `json:"error_code"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smart: decode %s response: %w", method, err))
	}
	if decoded.ErrorCode != 0 {
		return nil, kerrors.FromCode(decoded.ErrorCode, true, fmt.Sprintf("%s failed", method))
	}
	var val interface{}
	if len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, &val); err != nil {
			return nil, kerrors.Internal(fmt.Errorf("smart: decode %s result: %w", method, err))
		}
	}
	return val, nil
}

// batchItem is one entry of a multipleRequest batch: key is how the
// result is attributed back to the caller (the Smart protocol's
// method name doubles as both; SmartCam's reshaped get/set/do verbs
// do not, so it keeps them distinct).
type batchItem struct {
	key    string
	method string
	params interface{}
}

// multipleRequest packs names into one multipleRequest call, keyed
// and addressed by method name (Smart has no verb-collapsing, unlike
// SmartCam).
func (p *Smart) multipleRequest(ctx context.Context, names []string, params map[string]interface{}) (map[string]interface{}, error) {
	items := make([]batchItem, len(names))
	for i, name := range names {
		items[i] = batchItem{key: name, method: name, params: params[name]}
	}
	return p.multipleRequestItems(ctx, items)
}

// multipleRequestItems is the shared batch machinery: it matches each
// response positionally against the request it corresponds to (the
// device is expected to preserve order), cross-checking the echoed
// method name as a sanity check rather than the primary key, so
// distinct callers keyed by something other than the wire method
// (SmartCam's reshaped get/set) are matched correctly too. On a
// batch-level JSON_DECODE_FAIL_ERROR/INTERNAL_UNKNOWN_ERROR it demotes
// batchSize to 1 (sticky for the life of this Smart instance) and
// requeries the whole chunk singly instead of failing it outright.
func (p *Smart) multipleRequestItems(ctx context.Context, items []batchItem) (map[string]interface{}, error) {
	requests := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		requests = append(requests, map[string]interface{}{"method": it.method, "params": it.params})
	}

	payload, err := json.Marshal(p.envelope("multipleRequest", map[string]interface{}{"requests": requests}))
	if err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smart: marshal multipleRequest: %w", err))
	}

	raw, err := sendWithRetry(ctx, p.transport, payload, p.retries, p.log)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			Responses []struct {
				Method    string          `json:"method"`
				ErrorCode int             `json:"error_code"`
				Result    json.RawMessage `json:"result"`
			} `json:"responses"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("smart: decode multipleRequest response: %w", err))
	}

	if decoded.ErrorCode != 0 {
		if decoded.ErrorCode == kerrors.CodeJSONDecodeFailError || decoded.ErrorCode == kerrors.CodeInternalUnknownError {
			p.log.WithField("batch_size", p.batchSize).Warn("smart: demoting batch size to 1 after batch-level decode failure")
			p.batchSize = 1
			return p.requeueItemsSingly(ctx, items), nil
		}
		return nil, kerrors.FromCode(decoded.ErrorCode, true, "multipleRequest failed")
	}

	out := make(map[string]interface{}, len(items))
	var requeue []batchItem
	for i, it := range items {
		if i >= len(decoded.Result.Responses) {
			requeue = append(requeue, it)
			continue
		}
		sub := decoded.Result.Responses[i]
		if sub.Method != "" && sub.Method != it.method {
			// Known firmware quirk: the response order doesn't line up
			// with the request order. Requery this one singly rather
			// than risk attributing it to the wrong caller.
			requeue = append(requeue, it)
			continue
		}
		if sub.ErrorCode != 0 {
			out[it.key] = map[string]interface{}{"error_code": sub.ErrorCode}
			continue
		}
		var val interface{}
		if len(sub.Result) > 0 {
			_ = json.Unmarshal(sub.Result, &val)
		}
		out[it.key] = val
	}

	for key, v := range p.requeueItemsSingly(ctx, requeue) {
		out[key] = v
	}
	return out, nil
}

func (p *Smart) requeueItemsSingly(ctx context.Context, items []batchItem) map[string]interface{} {
	out := make(map[string]interface{}, len(items))
	for _, it := range items {
		res, err := p.singleRequest(ctx, it.method, it.params)
		if err != nil {
			out[it.key] = errorResult(err)
			continue
		}
		out[it.key] = res
	}
	return out
}

// paginationArrayKey reports whether page looks like a paginated
// result and, if so, which field holds the page.
func paginationArrayKey(page map[string]interface{}) (string, bool) {
	if _, ok := page["start_index"]; !ok {
		return "", false
	}
	if _, ok := page["sum"]; !ok {
		return "", false
	}
	key := ""
	count := 0
	for k, v := range page {
		if _, ok := v.([]interface{}); ok {
			key = k
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return key, true
}

// paginate re-requests method with an advancing start_index until the
// accumulated list reaches sum or a page comes back empty (guarding
// against a device that never converges).
func (p *Smart) paginate(ctx context.Context, method string, origParams interface{}, first map[string]interface{}) (map[string]interface{}, error) {
	arrKey, ok := paginationArrayKey(first)
	if !ok {
		return first, nil
	}
	sum := toInt(first["sum"])
	list := append([]interface{}{}, first[arrKey].([]interface{})...)

	for len(list) < sum {
		pageParams := mergeParams(origParams, map[string]interface{}{"start_index": len(list)})
		res, err := p.singleRequest(ctx, method, pageParams)
		if err != nil {
			return nil, err
		}
		page, ok := res.(map[string]interface{})
		if !ok {
			break
		}
		arr, _ := page[arrKey].([]interface{})
		if len(arr) == 0 {
			break
		}
		list = append(list, arr...)
	}

	out := make(map[string]interface{}, len(first))
	for k, v := range first {
		out[k] = v
	}
	out[arrKey] = list
	return out, nil
}

func (p *Smart) envelope(method string, params interface{}) map[string]interface{} {
	e := map[string]interface{}{
		"method":             method,
		"request_time_milis": time.Now().UnixMilli(),
		"terminal_uuid":      p.terminalUUID,
	}
	if params != nil {
		e["params"] = params
	}
	return e
}

func mergeParams(orig interface{}, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	if m, ok := orig.(map[string]interface{}); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func errorResult(err error) map[string]interface{} {
	code := 0
	if kerr, ok := err.(*kerrors.Error); ok {
		code = kerr.Code
	}
	return map[string]interface{}{"error_code": code, "error": err.Error()}
}

func (p *Smart) Close() error {
	return p.transport.Close()
}
