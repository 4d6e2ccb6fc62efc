// internal/audit/merkle.go
package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot reduces a batch of record hashes to one root. A trailing node
// without a sibling is hashed with itself. Any malformed hash yields "".
func MerkleRoot(hashes []string) string {
	nodes := make([][]byte, len(hashes))
	for i, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return ""
		}
		nodes[i] = b
	}

	for n := len(nodes); n > 1; n = (n + 1) / 2 {
		for i := 0; i < n; i += 2 {
			j := i + 1
			if j == n {
				j = i
			}
			h := sha256.New()
			h.Write(nodes[i])
			h.Write(nodes[j])
			nodes[i/2] = h.Sum(nil)
		}
	}
	if len(nodes) == 0 {
		return ""
	}
	return hex.EncodeToString(nodes[0])
}
