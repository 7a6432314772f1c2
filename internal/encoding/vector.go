// Package encoding implements the binary (de)serialization formats the
// core persists: raw float32 vectors, HNSW node records, and typed
// metadata. Formats follow spec.md §6's persisted layout so that on-disk
// data stays bit-exact across implementations of this spec.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidVector is returned when vector bytes are truncated or
// malformed.
var ErrInvalidVector = errors.New("invalid encoded vector")

// EncodeVector writes vector as a length-prefixed, little-endian float32
// sequence.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	buf := new(bytes.Buffer)
	if len(vector) > 1<<31-1 {
		return nil, fmt.Errorf("vector too large: %d elements", len(vector))
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(vector))); err != nil {
		return nil, fmt.Errorf("encode vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("encode vector values: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("decode vector length: %w", err)
	}
	if n == 0 {
		return []float32{}, nil
	}
	expected := int(n) * 4
	if r.Len() < expected {
		return nil, ErrInvalidVector
	}
	vec := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("decode vector values: %w", err)
	}
	return vec, nil
}
