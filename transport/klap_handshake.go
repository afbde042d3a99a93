package transport

import "github.com/cloudkucooland/gokasa/codec"

// klapAuthHashV1 = MD5(MD5(username) || MD5(password)).
func klapAuthHashV1(username, password string) []byte {
	u := codec.MD5Sum([]byte(username))
	p := codec.MD5Sum([]byte(password))
	return codec.MD5Sum(u, p)
}

// klapAuthHashV2 = SHA256(SHA1(username) || SHA1(password)).
func klapAuthHashV2(username, password string) []byte {
	u := codec.SHA1Sum([]byte(username))
	p := codec.SHA1Sum([]byte(password))
	return codec.SHA256Sum(u, p)
}

// klapHandshake1Tag computes the server-tag-equivalent the client
// expects back from POST /app/handshake1 for a candidate auth_hash:
//
//	v1: SHA256(local_seed || auth_hash)
//	v2: SHA256(local_seed || remote_seed || auth_hash)
func klapHandshake1Tag(v2 bool, localSeed, remoteSeed [16]byte, authHash []byte) []byte {
	if v2 {
		return codec.SHA256Sum(localSeed[:], remoteSeed[:], authHash)
	}
	return codec.SHA256Sum(localSeed[:], authHash)
}

// klapHandshake2Payload computes the POST /app/handshake2 body:
//
//	v1: SHA256(remote_seed || auth_hash)          -- local_seed is NOT mixed in
//	v2: SHA256(remote_seed || local_seed || auth_hash)
//
// This asymmetry (v1 omits local_seed where v2 includes it) matches
// observed device firmware and is preserved here rather than
// "fixed" into symmetry.
func klapHandshake2Payload(v2 bool, localSeed, remoteSeed [16]byte, authHash []byte) []byte {
	if v2 {
		return codec.SHA256Sum(remoteSeed[:], localSeed[:], authHash)
	}
	return codec.SHA256Sum(remoteSeed[:], authHash)
}
