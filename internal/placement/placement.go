// Package placement computes which positions in a membership view are
// responsible for a key, using a deterministic scan over a
// cryptographic digest of the key — the same "ring position from a
// hash" idea the teacher's consistent-hash ring uses, generalized
// from a single winning position to an ordered list of R_f distinct
// positions.
package placement

import (
	"crypto/sha256"
	"encoding/binary"
)

// digestWindows is how many independent 4-byte windows a single
// SHA-256 digest yields.
const digestWindows = sha256.Size / 4

// Replicas returns, for key placed against a membership view of
// ringSize data-bearing peers, an ordered list of min(ringSize,
// replicationFactor) distinct positions in [0, ringSize). Position i
// identifies the i-th smallest positive peer id in the view — the
// caller maps positions to concrete peers.
//
// The result is deterministic for a given (key, ringSize,
// replicationFactor): repeated calls return the identical sequence.
//
// Reserved ids (0 for the Coordinator, -1 for a Client) are never
// members of the membership view this function indexes into — by the
// time a view reaches Replicas, the Coordinator and Client have
// already been excluded — so the "skip reserved ids" rule from the
// specification degenerates to a bounds check here: a candidate
// position computed mod (ringSize+1) that lands exactly on the extra
// ringSize'th slot is the one inadmissible value, and is skipped by
// incrementing mod (ringSize+1) the same way an already-chosen
// position is skipped.
func Replicas(key string, ringSize, replicationFactor int) []int {
	if ringSize <= 0 || replicationFactor <= 0 {
		return nil
	}

	rf := replicationFactor
	if ringSize < rf {
		rf = ringSize
	}

	chosen := make([]int, 0, rf)
	seen := make(map[int]bool, rf)

	digest := sha256.Sum256([]byte(key))
	windowAt := func(i int) uint32 {
		if i < digestWindows {
			return binary.BigEndian.Uint32(digest[i*4 : i*4+4])
		}
		// Need more windows than one digest yields (only possible
		// when the replication factor is unusually large): extend
		// the scan by re-hashing the digest chained with the window
		// index, keeping the whole sequence deterministic.
		var extra [4]byte
		binary.BigEndian.PutUint32(extra[:], uint32(i))
		next := sha256.Sum256(append(append([]byte{}, digest[:]...), extra[:]...))
		return binary.BigEndian.Uint32(next[(i%digestWindows)*4 : (i%digestWindows)*4+4])
	}

	window := 0
	for len(chosen) < rf {
		candidate := int(windowAt(window) % uint32(ringSize))
		window++

		for {
			if candidate < ringSize && !seen[candidate] {
				break
			}
			candidate = (candidate + 1) % (ringSize + 1)
		}

		seen[candidate] = true
		chosen = append(chosen, candidate)
	}

	return chosen
}
