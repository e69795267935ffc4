// Package idhash derives deterministic record identifiers.
package idhash

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeReactionID computes a deterministic reaction_id.
// Formula: keccak256(key|monitor|run_id), hex-encoded without 0x (64 characters).
func ComputeReactionID(key, monitor, runID string) string {
	data := fmt.Sprintf("%s|%s|%s", key, monitor, runID)
	hash := crypto.Keccak256([]byte(data))
	return hex.EncodeToString(hash)
}
