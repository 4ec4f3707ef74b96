package wire

import "encoding/base64"

// Base64Encode and Base64Decode are RFC 4648 standard-alphabet codecs,
// shared by the Basic-auth decoder and the SDP builder's
// sprop-parameter-sets encoding. No narrowed alphabet or ad-hoc decoder
// is used anywhere in this core (spec.md §9 calls out the legacy
// narrow-alphabet bug this replaces).
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes s as RFC 4648 standard-alphabet base64.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
