package wire

import (
	"github.com/klauspost/compress/zstd"
)

// createEntityCompressionThreshold is the raw payload size, in bytes, above
// which CreateEntity switches from a passthrough payload to a zstd-packed
// one. Small entities (a placeable plus one or two components) stay raw:
// zstd's own framing overhead outweighs the savings below this size.
const createEntityCompressionThreshold = 96

var (
	payloadCompressor   *zstd.Encoder
	payloadDecompressor *zstd.Decoder
)

func init() {
	var err error
	payloadCompressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	payloadDecompressor, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// compressCreateEntityPayload wraps a fully bit-packed CreateEntity payload
// in a one-byte passthrough/compressed marker, compressing full-scene
// snapshots (large batches of new entities/components) while leaving small,
// already-tightly-packed payloads alone.
func compressCreateEntityPayload(raw []byte) []byte {
	if len(raw) < createEntityCompressionThreshold {
		return append([]byte{0}, raw...)
	}
	compressed := payloadCompressor.EncodeAll(raw, nil)
	if len(compressed) >= len(raw) {
		return append([]byte{0}, raw...)
	}
	return append([]byte{1}, compressed...)
}

// decompressCreateEntityPayload reverses compressCreateEntityPayload,
// returning the original bit-packed payload a CreateEntity decoder expects.
func decompressCreateEntityPayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	marker, body := payload[0], payload[1:]
	if marker == 0 {
		return body, nil
	}
	return payloadDecompressor.DecodeAll(body, nil)
}
