package vectorindex

import "github.com/polyquery/polyquery/pkg/quantization"

// WithTrainedQuantizer trains a scalar quantizer on sample and returns a
// Config ready to pass to New, wiring pkg/quantization into the index so
// nodes store compressed vectors instead of raw float32 slices. Use this
// when memory, not recall, is the binding constraint (spec.md's
// SUPPLEMENTED FEATURES).
func WithTrainedQuantizer(cfg Config, sample [][]float32, nbits int) (Config, error) {
	q, err := quantization.NewScalarQuantizer(cfg.Dim, nbits)
	if err != nil {
		return cfg, err
	}
	if err := q.Train(sample); err != nil {
		return cfg, err
	}
	cfg.Quantizer = q
	return cfg, nil
}
