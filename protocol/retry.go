package protocol

import (
	"context"
	"time"

	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/cloudkucooland/gokasa/transport"
	"github.com/sirupsen/logrus"
)

// retryBackoff is the fixed pause before retrying on Timeout or
// RetryableError.
const retryBackoff = time.Second

// sendWithRetry implements the outer retry loop shared by IoT, Smart,
// and SmartCam: Timeout resets and retries after a
// backoff, ConnectionError retries immediately, RetryableError resets
// and retries after a backoff, AuthenticationError resets and
// surfaces without retrying, and everything else resets and
// surfaces.
func sendWithRetry(ctx context.Context, t transport.Transport, payload []byte, retries int, log *logrus.Entry) ([]byte, error) {
	if retries <= 0 {
		retries = DefaultRetries
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		resp, err := t.Send(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		switch kerrors.KindOf(err) {
		case kerrors.KindTimeout:
			log.WithError(err).WithField("attempt", attempt).Debug("timeout, resetting and retrying")
			t.Reset()
			if !sleepOrCancel(ctx, retryBackoff) {
				return nil, ctx.Err()
			}
		case kerrors.KindConnection:
			log.WithError(err).WithField("attempt", attempt).Debug("connection error, retrying immediately")
		case kerrors.KindRetryable:
			log.WithError(err).WithField("attempt", attempt).Warn("retryable device error, resetting and retrying")
			t.Reset()
			if !sleepOrCancel(ctx, retryBackoff) {
				return nil, ctx.Err()
			}
		case kerrors.KindAuth:
			t.Reset()
			return nil, err
		default:
			t.Reset()
			return nil, err
		}
	}
	return nil, lastErr
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
