// Package onnxnet runs the exported FourCastNetv2 graph with gomlx.
//
// The network is an opaque forward pass: the graph comes from an ONNX export
// and its weights from a checkpoint converted to npz, applied onto the graph
// variables by name. Execution happens on any registered gomlx backend.
package onnxnet

import (
	stdcontext "context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/pkg/errors"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/assets"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

// Options locates the network assets and selects the backend.
type Options struct {
	GraphPath   string
	WeightsPath string

	// Backend is a gomlx backend configuration such as "xla:cuda" or "go".
	// Empty selects the default backend.
	Backend string
}

// Network is a compiled, eval-only FourCastNetv2 forward pass.
type Network struct {
	backend   backends.Backend
	model     *onnx.Model
	exec      *context.Exec
	inputName string
	logger    *slog.Logger
}

// Load reads the graph, applies the checkpoint and compiles the forward pass.
func Load(opts Options, logger *slog.Logger) (*Network, error) {
	start := time.Now()
	if info, err := os.Stat(opts.GraphPath); err == nil {
		logger.Info("loading network graph", "path", opts.GraphPath, "size", humanize.Bytes(uint64(info.Size())))
	}
	model, err := onnx.ReadFile(opts.GraphPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read network graph %s", opts.GraphPath)
	}
	n, err := build(model, opts, logger)
	if err != nil {
		model.Close()
		return nil, err
	}
	logger.Info("network ready",
		"backend", n.backend.Name(),
		"input", n.inputName,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return n, nil
}

func build(model *onnx.Model, opts Options, logger *slog.Logger) (*Network, error) {
	inputs, _ := model.Inputs()
	outputs, _ := model.Outputs()
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, errors.Errorf("network graph has inputs %v and outputs %v, want a single input", inputs, outputs)
	}

	mctx := context.New()
	if err := model.VariablesToContext(mctx); err != nil {
		return nil, errors.Wrap(err, "load graph variables")
	}

	logger.Info("loading weights", "path", opts.WeightsPath)
	sd, err := numpy.FromNpzFile(opts.WeightsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read weights %s", opts.WeightsPath)
	}
	report, err := ApplyStateDict(StateDict(sd), contextParams(mctx))
	if err != nil {
		return nil, err
	}
	logger.Info("weights applied",
		"layout", report.Layout,
		"tensors", report.Applied,
		"parameters", humanize.Comma(parameterCount(sd)),
	)
	if len(report.Untouched) > 0 {
		logger.Debug("graph variables kept from export", "count", len(report.Untouched), "names", report.Untouched)
	}

	backend, err := newBackend(opts.Backend)
	if err != nil {
		return nil, err
	}

	inputName := inputs[0]
	exec, err := context.NewExec(backend, mctx, func(ctx *context.Context, x *graph.Node) *graph.Node {
		return model.CallGraph(ctx, x.Graph(), map[string]*graph.Node{inputName: x})[0]
	})
	if err != nil {
		backend.Finalize()
		return nil, errors.Wrap(err, "compile forward pass")
	}

	return &Network{
		backend:   backend,
		model:     model,
		exec:      exec,
		inputName: inputName,
		logger:    logger,
	}, nil
}

func newBackend(config string) (backends.Backend, error) {
	var backend backends.Backend
	var err error
	if e := exceptions.TryCatch[error](func() {
		if config == "" {
			backend, err = backends.New()
		} else {
			backend, err = backends.NewWithConfig(config)
		}
	}); e != nil {
		err = e
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create backend %q", config)
	}
	return backend, nil
}

func contextParams(mctx *context.Context) []Param {
	var params []Param
	mctx.EnumerateVariables(func(v *context.Variable) {
		params = append(params, Param{
			Name:  v.Name(),
			DType: v.DType(),
			Dims:  v.Shape().Dimensions,
			Set:   v.SetValue,
		})
	})
	return params
}

func parameterCount(sd map[string]*tensors.Tensor) int64 {
	var total int64
	for _, t := range sd {
		total += int64(t.Size())
	}
	return total
}

// Forward advances a normalised state by one step.
func (n *Network) Forward(ctx stdcontext.Context, in domain.State) (domain.State, error) {
	if err := ctx.Err(); err != nil {
		return domain.State{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.State{}, fmt.Errorf("forward: %w", err)
	}

	input := tensors.FromFlatDataAndDimensions(in.Data, in.Dims()...)
	defer func() { _ = input.FinalizeAll() }()

	var output *tensors.Tensor
	var err error
	if e := exceptions.TryCatch[error](func() {
		output, err = n.exec.Exec1(input)
	}); e != nil {
		err = e
	}
	if err != nil {
		return domain.State{}, errors.Wrap(err, "forward pass")
	}
	defer func() { _ = output.FinalizeAll() }()

	dims := output.Shape().Dimensions
	if len(dims) != 4 || dims[0] != 1 || dims[2] != in.Lat || dims[3] != in.Lon {
		return domain.State{}, errors.Errorf("forward pass returned shape %v, want [1 C %d %d]", dims, in.Lat, in.Lon)
	}
	if dims[1] != in.Channels {
		return domain.State{}, fmt.Errorf("forward pass: %w: returned %d channels for %d", domain.ErrChannelMismatch, dims[1], in.Channels)
	}
	values, err := assets.Float32Values(output)
	if err != nil {
		return domain.State{}, errors.Wrap(err, "read forward output")
	}
	return domain.State{Channels: dims[1], Lat: dims[2], Lon: dims[3], Data: values}, nil
}

// Close releases the compiled graph and the backend.
func (n *Network) Close() error {
	n.exec.Finalize()
	n.model.Close()
	n.backend.Finalize()
	return nil
}
