package assets

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/x448/float16"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

// Files names the model assets expected under the assets directory.
type Files struct {
	Graph   string
	Weights string
	Means   string
	Stds    string
}

// DefaultFiles is the published asset layout.
var DefaultFiles = Files{
	Graph:   "fourcastnetv2.onnx",
	Weights: "weights.npz",
	Means:   "global_means.npy",
	Stds:    "global_stds.npy",
}

// Names lists every asset file.
func (f Files) Names() []string {
	return []string{f.Graph, f.Weights, f.Means, f.Stds}
}

// In resolves every asset file against dir.
func (f Files) In(dir string) Files {
	return Files{
		Graph:   filepath.Join(dir, f.Graph),
		Weights: filepath.Join(dir, f.Weights),
		Means:   filepath.Join(dir, f.Means),
		Stds:    filepath.Join(dir, f.Stds),
	}
}

// LoadStatistics reads the global means and standard deviations from dir and
// keeps the first channels entries.
func LoadStatistics(dir string, channels int, logger *slog.Logger) (domain.Statistics, error) {
	paths := DefaultFiles.In(dir)

	logger.Info("loading statistics", "path", paths.Means)
	means, err := readChannelVector(paths.Means)
	if err != nil {
		return domain.Statistics{}, err
	}

	logger.Info("loading statistics", "path", paths.Stds)
	stds, err := readChannelVector(paths.Stds)
	if err != nil {
		return domain.Statistics{}, err
	}

	st, err := domain.NewStatistics(means, stds, channels)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("load statistics from %s: %w", dir, err)
	}
	return st, nil
}

// readChannelVector reads an npy array holding one value per channel. The
// channel axis is the second one for [1, C, 1, 1] arrays and the only one for
// [C] arrays.
func readChannelVector(path string) ([]float32, error) {
	t, err := numpy.FromNpyFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer func() { _ = t.FinalizeAll() }()

	values, err := Float32Values(t)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	dims := t.Shape().Dimensions
	if len(dims) > 1 && dims[1] != len(values) {
		return nil, fmt.Errorf("read %s: shape %v has more than one value per channel", path, dims)
	}
	return values, nil
}

// Float32Values copies the flat contents of t as float32, narrowing float64
// and widening float16 sources.
func Float32Values(t *tensors.Tensor) ([]float32, error) {
	var out []float32
	var err error
	switch t.DType() {
	case dtypes.Float32:
		err = tensors.ConstFlatData(t, func(flat []float32) {
			out = append([]float32(nil), flat...)
		})
	case dtypes.Float64:
		err = tensors.ConstFlatData(t, func(flat []float64) {
			out = make([]float32, len(flat))
			for i, v := range flat {
				out[i] = float32(v)
			}
		})
	case dtypes.Float16:
		err = tensors.ConstFlatData(t, func(flat []float16.Float16) {
			out = make([]float32, len(flat))
			for i, v := range flat {
				out[i] = v.Float32()
			}
		})
	default:
		return nil, fmt.Errorf("unsupported dtype %s, want a floating point array", t.DType())
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
