package encoding

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyquery/polyquery/pkg/model"
)

// jsonScalar is the wire form of a model.Scalar: a kind tag plus a single
// raw value, so that type information survives the JSON round trip spec.md
// §6 requires ("UTF-8 JSON-like object with typed fields").
type jsonScalar struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// EncodeMetadata serializes typed metadata to its persisted JSON form.
func EncodeMetadata(md model.Metadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	wire := make(map[string]jsonScalar, len(md))
	for field, v := range md {
		js, err := encodeScalar(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", field, err)
		}
		wire[field] = js
	}
	return json.Marshal(wire)
}

// DecodeMetadata is the inverse of EncodeMetadata.
func DecodeMetadata(data []byte) (model.Metadata, error) {
	if len(data) == 0 {
		return model.Metadata{}, nil
	}
	var wire map[string]jsonScalar
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	md := make(model.Metadata, len(wire))
	for field, js := range wire {
		v, err := decodeScalar(js)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", field, err)
		}
		md[field] = v
	}
	return md, nil
}

func encodeScalar(s model.Scalar) (jsonScalar, error) {
	switch s.Kind {
	case model.KindString:
		raw, _ := json.Marshal(s.Str)
		return jsonScalar{Kind: "string", Value: raw}, nil
	case model.KindInt:
		raw, _ := json.Marshal(s.Int)
		return jsonScalar{Kind: "int", Value: raw}, nil
	case model.KindFloat:
		raw, _ := json.Marshal(s.Flt)
		return jsonScalar{Kind: "float", Value: raw}, nil
	case model.KindBool:
		raw, _ := json.Marshal(s.Bln)
		return jsonScalar{Kind: "bool", Value: raw}, nil
	case model.KindTimestamp:
		raw, _ := json.Marshal(s.Time.Format(time.RFC3339Nano))
		return jsonScalar{Kind: "timestamp", Value: raw}, nil
	case model.KindList:
		items := make([]jsonScalar, len(s.List))
		for i, it := range s.List {
			js, err := encodeScalar(it)
			if err != nil {
				return jsonScalar{}, err
			}
			items[i] = js
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return jsonScalar{}, err
		}
		return jsonScalar{Kind: "list", Value: raw}, nil
	default:
		return jsonScalar{}, fmt.Errorf("unsupported scalar kind %v", s.Kind)
	}
}

func decodeScalar(js jsonScalar) (model.Scalar, error) {
	switch js.Kind {
	case "string":
		var s string
		if err := json.Unmarshal(js.Value, &s); err != nil {
			return model.Scalar{}, err
		}
		return model.String(s), nil
	case "int":
		var i int64
		if err := json.Unmarshal(js.Value, &i); err != nil {
			return model.Scalar{}, err
		}
		return model.Int64(i), nil
	case "float":
		var f float64
		if err := json.Unmarshal(js.Value, &f); err != nil {
			return model.Scalar{}, err
		}
		return model.Float64(f), nil
	case "bool":
		var b bool
		if err := json.Unmarshal(js.Value, &b); err != nil {
			return model.Scalar{}, err
		}
		return model.Bool(b), nil
	case "timestamp":
		var s string
		if err := json.Unmarshal(js.Value, &s); err != nil {
			return model.Scalar{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return model.Scalar{}, err
		}
		return model.Timestamp(t), nil
	case "list":
		var items []jsonScalar
		if err := json.Unmarshal(js.Value, &items); err != nil {
			return model.Scalar{}, err
		}
		out := make([]model.Scalar, len(items))
		for i, it := range items {
			v, err := decodeScalar(it)
			if err != nil {
				return model.Scalar{}, err
			}
			out[i] = v
		}
		return model.List(out...), nil
	default:
		return model.Scalar{}, fmt.Errorf("unknown scalar kind %q", js.Kind)
	}
}
