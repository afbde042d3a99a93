package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "TP_SESSIONID", Value: "abc123"})
		w.Write([]byte(`{"result":{"ok":true},"error_code":0}`))
	}))
	defer srv.Close()

	c, err := New(Options{Host: "test", Timeout: 2 * time.Second})
	require.NoError(t, err)

	resp, err := c.PostJSON(context.Background(), srv.URL+"/app", map[string]string{"method": "handshake"}, nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.NotNil(t, resp.JSON)

	val, ok := c.GetCookie(srv.URL, "TP_SESSIONID")
	require.True(t, ok)
	require.Equal(t, "abc123", val)
}

func TestPostBytesRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	c, err := New(Options{Host: "test", Timeout: 2 * time.Second})
	require.NoError(t, err)

	resp, err := c.PostBytes(context.Background(), srv.URL, []byte{0xAA}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, resp.Bytes)
}

func TestClassifyTimeout(t *testing.T) {
	c, err := New(Options{Host: "10.255.255.1", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.PostJSON(ctx, "http://10.255.255.1:9/app", map[string]string{}, nil)
	require.Error(t, err)
}
