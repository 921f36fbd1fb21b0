package wire

// Attribute value encoding/decoding lives in internal/scene (see
// scene.EncodeAttributeValue / scene.DecodeAttributeValue /
// scene.DecodeNativeAttributeValue) since the sync package's inbound-apply
// step needs it too and cannot import this package.
