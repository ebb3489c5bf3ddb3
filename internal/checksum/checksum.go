// Package checksum derives content-identity keys used by the metas side-channel.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ContentKey identifies a resource version independently of any node: the
// same path with the same modification stamp always yields the same key.
func ContentKey(path string, mtime time.Time) string {
	return Sum([]byte(path + "\x00" + strconv.FormatInt(mtime.UTC().UnixNano(), 10)))
}
