package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot builds a binary Merkle tree bottom-up over the ordered hashes
// and returns the root, or the empty string for zero hashes. An odd node at
// any level is paired with itself rather than left unpaired, so every level
// halves cleanly.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			sum := sha256.Sum256([]byte(left + right))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		level = next
	}
	return level[0]
}

// EventMerkleRoot computes the Merkle root over the stored hashes of the
// ordered event list.
func EventMerkleRoot(events []*Event) string {
	hashes := make([]string, len(events))
	for i, e := range events {
		hashes[i] = e.Hash
	}
	return MerkleRoot(hashes)
}
