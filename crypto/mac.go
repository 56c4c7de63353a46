package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// ComputeMAC returns HMAC-SHA256 keyed by sessionKey over the framed
// ordered args. Each arg is framed as a 4-byte big-endian length followed by
// its bytes, so ["ab","c"] and ["a","bc"] never collide.
func ComputeMAC(sessionKey []byte, args ...[]byte) []byte {
	mac := hmac.New(sha256.New, sessionKey)
	var length [4]byte
	for _, arg := range args {
		binary.BigEndian.PutUint32(length[:], uint32(len(arg)))
		mac.Write(length[:])
		mac.Write(arg)
	}
	return mac.Sum(nil)
}

// VerifyMAC recomputes the MAC and compares in constant time.
func VerifyMAC(sessionKey, expected []byte, args ...[]byte) bool {
	if len(sessionKey) == 0 || len(expected) == 0 {
		return false
	}
	return SecureCompare(ComputeMAC(sessionKey, args...), expected)
}
