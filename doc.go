// Package gokasa is a client library for TP-Link's Kasa and Tapo
// smart-home devices: UDP discovery, and the three device transports
// (legacy length-prefixed XOR-TCP, RSA/AES-passthrough over HTTP, and
// KLAP) unified behind one request/response Protocol interface.
//
// Discover finds devices on the local network; protocol.Select (or the
// NewProtocol wrapper here) builds the (Protocol, Transport) pair a
// deviceconfig.DeviceConfig resolves to. Callers own the query
// vocabulary: this package moves bytes, it does not model lightbulbs.
package gokasa
