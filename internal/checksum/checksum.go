// Package checksum computes the integrity digest used by the segment codec.
package checksum

import "crypto/md5"

// Sum32 returns the low 32 bits of MD5(header ‖ payload) as used by the
// segment checksum field. header is the 12-byte seq/ack/flags/window prefix;
// the checksum and payload_len fields are not part of it.
func Sum32(header, payload []byte) uint32 {
	h := md5.New()
	h.Write(header)
	h.Write(payload)
	sum := h.Sum(nil)
	return uint32(sum[12])<<24 | uint32(sum[13])<<16 | uint32(sum[14])<<8 | uint32(sum[15])
}
