package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/cloudkucooland/gokasa/transport"
	"github.com/sirupsen/logrus"
)

// IoT speaks the legacy command set: a request is the raw
// {module:{command:params}} tree, sent and returned as-is with no
// envelope.
type IoT struct {
	transport transport.Transport
	retries   int
	log       *logrus.Entry

	mu sync.Mutex
}

// NewIoT wraps t in the legacy IoT protocol.
func NewIoT(t transport.Transport, log *logrus.Entry) *IoT {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &IoT{transport: t, retries: DefaultRetries, log: log.WithField("protocol", "iot")}
}

// Query sends methods as-is (the legacy protocol has no batching or
// method envelope) and returns the decoded response tree verbatim;
// unlike Smart/SmartCam there is no per-method result map to build.
func (p *IoT) Query(ctx context.Context, methods map[string]interface{}) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload, err := json.Marshal(methods)
	if err != nil {
		return nil, kerrors.Internal(fmt.Errorf("iot: marshal request: %w", err))
	}

	raw, err := sendWithRetry(ctx, p.transport, payload, p.retries, p.log)
	if err != nil {
		return nil, err
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("iot: decode response: %w", err))
	}
	return decoded, nil
}

func (p *IoT) Close() error {
	return p.transport.Close()
}
