package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NodeFormatVersion is bumped whenever the on-disk HNSW node layout
// changes incompatibly.
const NodeFormatVersion uint32 = 1

// HNSWNodeRecord is the persisted form of one HNSW graph node: spec.md
// §6's `header{version,dim,level} + dim·f32 + per-level neighbor arrays`.
type HNSWNodeRecord struct {
	Dim       uint32
	Level     uint32
	Vector    []float32
	Neighbors [][]string // Neighbors[level] = ordered neighbor ids
}

// EncodeHNSWNode serializes a node record to its persisted byte form.
func EncodeHNSWNode(rec HNSWNodeRecord) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, NodeFormatVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, rec.Dim); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, rec.Level); err != nil {
		return nil, err
	}
	if uint32(len(rec.Vector)) != rec.Dim {
		return nil, fmt.Errorf("vector length %d does not match dim %d", len(rec.Vector), rec.Dim)
	}
	if err := binary.Write(buf, binary.LittleEndian, rec.Vector); err != nil {
		return nil, err
	}
	for level := 0; level <= int(rec.Level); level++ {
		var ids []string
		if level < len(rec.Neighbors) {
			ids = rec.Neighbors[level]
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(ids))); err != nil {
			return nil, err
		}
		for _, id := range ids {
			if err := writeString(buf, id); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// DecodeHNSWNode is the inverse of EncodeHNSWNode.
func DecodeHNSWNode(data []byte) (HNSWNodeRecord, error) {
	var rec HNSWNodeRecord
	r := bytes.NewReader(data)

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return rec, fmt.Errorf("read version: %w", err)
	}
	if version != NodeFormatVersion {
		return rec, fmt.Errorf("unsupported node format version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.Dim); err != nil {
		return rec, fmt.Errorf("read dim: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.Level); err != nil {
		return rec, fmt.Errorf("read level: %w", err)
	}
	rec.Vector = make([]float32, rec.Dim)
	if err := binary.Read(r, binary.LittleEndian, rec.Vector); err != nil {
		return rec, fmt.Errorf("read vector: %w", err)
	}
	rec.Neighbors = make([][]string, rec.Level+1)
	for level := 0; level <= int(rec.Level); level++ {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return rec, fmt.Errorf("read neighbor count at level %d: %w", level, err)
		}
		ids := make([]string, count)
		for i := range ids {
			s, err := readString(r)
			if err != nil {
				return rec, fmt.Errorf("read neighbor id at level %d: %w", level, err)
			}
			ids[i] = s
		}
		rec.Neighbors[level] = ids
	}
	return rec, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
