// Package quantization implements vector compression usable as an
// optional plugin for the HNSW index (pkg/vectorindex), trading recall for
// memory: instead of keeping a full []float32 per node, the index can
// store a quantized byte encoding and dequantize on demand.
package quantization

import "errors"

// ErrNotTrained is returned by Encode/Decode when called before Train.
var ErrNotTrained = errors.New("quantizer not trained")

// Quantizer compresses and reconstructs fixed-dimension float32 vectors.
// Both ScalarQuantizer and ProductQuantizer satisfy this directly; callers
// that need quantization-specific knobs (PQ's SearchPQ, scalar's
// CompressionRatio) type-assert past the interface.
type Quantizer interface {
	Encode(vector []float32) ([]byte, error)
	Decode(encoded []byte) ([]float32, error)
}
