package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// PairKey fingerprints an (email, phoneNumber) pair. A nil field and a present
// field never collide, so (a, nil) and (a, "") hash differently.
func PairKey(email, phone *string) string {
	buf := make([]byte, 0, 64)
	buf = appendField(buf, email)
	buf = appendField(buf, phone)
	return Sum(buf)
}

func appendField(buf []byte, v *string) []byte {
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = append(buf, *v...)
	return append(buf, 0)
}
