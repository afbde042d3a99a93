package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestXORTransportTCPRoundTrip simulates a legacy device: accept one
// TCP connection, read the length-prefixed XOR frame, decrypt it,
// and reply with an XOR-encrypted JSON response of its own.
func TestXORTransportTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		lenBuf := make([]byte, 4)
		if _, err := readFull(conn, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		body := make([]byte, n)
		if _, err := readFull(conn, body); err != nil {
			return
		}
		req := codec.XORDecrypt(body)
		require.JSONEq(t, `{"system":{"get_sysinfo":{}}}`, string(req))

		reply := codec.EncryptRequest([]byte(`{"system":{"get_sysinfo":{"alias":"lamp"}}}`))
		_, _ = conn.Write(reply)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	tr, err := NewXORTransport(host, port, 2*time.Second, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	resp, err := tr.Send(context.Background(), []byte(`{"system":{"get_sysinfo":{}}}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"system":{"get_sysinfo":{"alias":"lamp"}}}`, string(resp))
}

func TestXORTransportRejectsOversizedFrame(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		lenBuf := make([]byte, 4)
		_, _ = readFull(conn, lenBuf)
		body := make([]byte, binary.BigEndian.Uint32(lenBuf))
		_, _ = readFull(conn, body)

		huge := make([]byte, 4)
		binary.BigEndian.PutUint32(huge, 1<<30)
		_, _ = conn.Write(huge)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	tr, err := NewXORTransport(host, port, 2*time.Second, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), []byte(`{}`))
	require.Error(t, err)
}
