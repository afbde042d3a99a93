package discovery

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudkucooland/gokasa/codec"
)

func newReplyFrame(body []byte) []byte {
	header := make([]byte, newProbeHeaderSize)
	header[0] = 2
	binary.BigEndian.PutUint16(header[4:6], uint16(len(header)+len(body)))
	return append(header, body...)
}

func echoReplies(conn *net.UDPConn, reply []byte) {
	buf := make([]byte, 4096)
	for {
		_, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_, _ = conn.WriteToUDP(reply, addr)
	}
}

// startFakeLegacyDevice plays only the 9999 side of a device's
// discovery reply, so tests exercising the legacy path aren't racing
// against an unrelated 20002 listener for the same loopback IP.
func startFakeLegacyDevice(t *testing.T, reply []byte) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: LegacyProbePort})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	go echoReplies(conn, reply)
}

// startFakeNewDevice plays only the 20002 side.
func startFakeNewDevice(t *testing.T, body []byte) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: NewProbePort})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	go echoReplies(conn, newReplyFrame(body))
}

func TestDiscoverSingleFindsLegacyDevice(t *testing.T) {
	reply := codec.XOREncrypt([]byte(`{"system":{"get_sysinfo":{"model":"HS100(US)","deviceId":"legacy-1","mic_type":"IOT.SMARTPLUGSWITCH","mac":"11:22:33:44:55:66"}}}`))
	startFakeLegacyDevice(t, reply)

	r, err := DiscoverSingle(context.Background(), "127.0.0.1", Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "legacy-1", r.DeviceID)
	require.True(t, r.Legacy)
}

func TestDiscoverSingleFindsNewProtocolDevice(t *testing.T) {
	body := []byte(`{"device_type":"SMART.TAPOPLUG","device_model":"P110","device_id":"smart-1","mgt_encrypt_schm":{"encrypt_type":"KLAP"}}`)
	startFakeNewDevice(t, body)

	r, err := DiscoverSingle(context.Background(), "127.0.0.1", Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "smart-1", r.DeviceID)
	require.False(t, r.Legacy)
	require.Equal(t, "SMART.TAPOPLUG", r.DeviceType)
}

func TestDiscoverSingleEarlyExitIsFast(t *testing.T) {
	reply := codec.XOREncrypt([]byte(`{"system":{"get_sysinfo":{"model":"HS100(US)","deviceId":"legacy-2","mic_type":"IOT.SMARTPLUGSWITCH"}}}`))
	startFakeLegacyDevice(t, reply)

	start := time.Now()
	_, err := DiscoverSingle(context.Background(), "127.0.0.1", Options{Timeout: 5 * time.Second, Packets: 3})
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Less(t, elapsed, 1*time.Second, "single-target discovery should exit as soon as the target replies, not wait out the full timeout")
}

func TestDiscoverSingleNoReplyTimesOut(t *testing.T) {
	_, err := DiscoverSingle(context.Background(), "127.0.0.1", Options{Timeout: 300 * time.Millisecond, Packets: 2})
	require.Error(t, err)
}

func TestDiscoverDedupesRepeatedRepliesPerIP(t *testing.T) {
	reply := codec.XOREncrypt([]byte(`{"system":{"get_sysinfo":{"model":"HS100(US)","deviceId":"legacy-3","mic_type":"IOT.SMARTPLUGSWITCH"}}}`))
	startFakeLegacyDevice(t, reply)

	results, errs := Discover(context.Background(), Options{Timeout: 500 * time.Millisecond, Packets: 3, BroadcastAddr: "127.0.0.1"})
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, "legacy-3", results["127.0.0.1"].DeviceID)
}

func TestProbeIntervalFloorsAt100ms(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, probeInterval(100*time.Millisecond, 3))
	require.Equal(t, 1*time.Second, probeInterval(3*time.Second, 3))
}
