// Package fingerprint computes content-addressable digests used to
// deduplicate uploaded documents.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
)

// Sum returns the lowercase hex MD5 digest of data. A 128-bit digest is
// enough for dedup; this is not used for anything security sensitive.
func Sum(data []byte) string {
	digest := md5.Sum(data)
	return hex.EncodeToString(digest[:])
}
