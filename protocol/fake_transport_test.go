package protocol

import (
	"context"
	"sync"
)

// fakeTransport is a scripted transport.Transport double: each call to
// Send pops the next scripted response/error pair, or returns
// {"error_code":0} once the script is exhausted.
type fakeTransport struct {
	mu        sync.Mutex
	responses []fakeResponse
	sent      [][]byte
	resets    int
	closed    bool
}

type fakeResponse struct {
	body []byte
	err  error
}

func (f *fakeTransport) Send(_ context.Context, request []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, request)

	if len(f.responses) == 0 {
		return []byte(`{"error_code":0}`), nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next.body, next.err
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
