package codec

import "hash/crc32"

// crc32Table is the IEEE polynomial table (0xEDB88320), the same
// polynomial used by the new-style 20002 discovery probe checksum.
var crc32Table = crc32.MakeTable(crc32.IEEE)

// CRC32IEEE computes the CRC32 checksum used by the 20002 discovery
// probe header. Initial/final XOR of 0xFFFFFFFF is built into
// hash/crc32's IEEE table implementation already.
func CRC32IEEE(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}
