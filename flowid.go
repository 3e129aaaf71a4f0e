package main

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// flowIDKey separates flow identifiers from any other use of BLAKE3 keyed
// hashing. Changing it changes every identifier.
var flowIDKey = [32]byte{
	'n', 'e', 't', 'g', 'r', 'o', 'k', '.', 'f', 'l', 'o', 'w', '.', 'i', 'd', 0,
}

// FlowID derives a stable identifier for a connection 4-tuple. Sessions
// carried over the same connection share it.
func FlowID(f Flow) string {
	h, err := blake3.NewKeyed(flowIDKey[:])
	if err != nil {
		// Only a key of the wrong length fails.
		panic("netgrok: blake3 keyed hash: " + err.Error())
	}
	for _, part := range []string{f.SrcIP, f.SrcPort, f.DstIP, f.DstPort} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
