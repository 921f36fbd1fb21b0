package cluster

import (
	"github.com/originworld/scenesync/internal/bitio"
)

// encodeEnvelope wraps a wire-encoded payload with the originating node id,
// so receivers can ignore their own broadcasts without a NATS-level
// sender filter.
func encodeEnvelope(nodeID string, payload []byte) []byte {
	w := bitio.NewWriter()
	_ = w.WriteVLE(uint32(len(nodeID)))
	for _, c := range []byte(nodeID) {
		w.WriteBits(uint32(c), 8)
	}
	for _, c := range payload {
		w.WriteBits(uint32(c), 8)
	}
	return w.Bytes()
}

func decodeEnvelope(data []byte) (nodeID string, payload []byte, err error) {
	r := bitio.NewReader(data)
	n, err := r.ReadVLE()
	if err != nil {
		return "", nil, err
	}
	idBytes := make([]byte, n)
	for i := range idBytes {
		v, err := r.ReadBits(8)
		if err != nil {
			return "", nil, err
		}
		idBytes[i] = byte(v)
	}

	remaining := r.BitsRemaining() / 8
	rest := make([]byte, remaining)
	for i := range rest {
		v, err := r.ReadBits(8)
		if err != nil {
			return "", nil, err
		}
		rest[i] = byte(v)
	}
	return string(idBytes), rest, nil
}
