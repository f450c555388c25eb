package onnxnet

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/assets"
)

// droppedKeys are checkpoint entries the network never consumes.
var droppedKeys = []string{"module.norm.weight", "module.norm.bias"}

// wrapperPrefix is the data-parallel wrapper prefix of checkpoint keys.
const wrapperPrefix = "module."

// skippedKey is left over from the wrapper once its prefix is removed.
const skippedKey = "ged"

// Param is a network variable a checkpoint entry can be applied to.
type Param struct {
	Name  string
	DType dtypes.DType
	Dims  []int
	Set   func(*tensors.Tensor) error
}

// StateDict is a checkpoint: parameter name to value.
type StateDict map[string]*tensors.Tensor

// Report summarises an applied checkpoint.
type Report struct {
	Layout    string // "stripped" or "raw"
	Applied   int
	Untouched []string // params the checkpoint did not cover
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// canonicalName folds the characters graph exporters rewrite in initializer
// names so checkpoint keys and variable names compare equal.
func canonicalName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ApplyStateDict loads sd onto params. The wrapper-stripped layout is tried
// first and the raw layout second; each is all or nothing.
func ApplyStateDict(sd StateDict, params []Param) (Report, error) {
	sd = dropKeys(sd)
	index := make(map[string]Param, len(params))
	for _, p := range params {
		index[canonicalName(p.Name)] = p
	}

	stripped := stripWrapper(sd)
	report, errStripped := applyStrict(stripped, index, params)
	if errStripped == nil {
		report.Layout = "stripped"
		return report, nil
	}
	report, errRaw := applyStrict(sd, index, params)
	if errRaw == nil {
		report.Layout = "raw"
		return report, nil
	}
	return Report{}, errors.Errorf("checkpoint does not match the network: stripped keys: %v; raw keys: %v", errStripped, errRaw)
}

func dropKeys(sd StateDict) StateDict {
	out := make(StateDict, len(sd))
	for k, v := range sd {
		if !slices.Contains(droppedKeys, k) {
			out[k] = v
		}
	}
	return out
}

func stripWrapper(sd StateDict) StateDict {
	out := make(StateDict, len(sd))
	for k, v := range sd {
		name := k
		if len(k) >= len(wrapperPrefix) {
			name = k[len(wrapperPrefix):]
		}
		if name == skippedKey {
			continue
		}
		out[name] = v
	}
	return out
}

// applyStrict validates and converts every entry before setting any of them:
// each key must name a param and carry its shape.
func applyStrict(sd StateDict, index map[string]Param, params []Param) (Report, error) {
	type assignment struct {
		param Param
		value *tensors.Tensor
	}
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var problems []string
	plan := make([]assignment, 0, len(keys))
	covered := make(map[string]bool, len(keys))
	for _, k := range keys {
		p, ok := index[canonicalName(k)]
		if !ok {
			problems = append(problems, fmt.Sprintf("unexpected key %q", k))
			continue
		}
		v := sd[k]
		if dims := v.Shape().Dimensions; !slices.Equal(dims, p.Dims) {
			problems = append(problems, fmt.Sprintf("%q has shape %v, network expects %v", k, dims, p.Dims))
			continue
		}
		value, err := convertTo(v, p.DType)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%q: %v", k, err))
			continue
		}
		plan = append(plan, assignment{param: p, value: value})
		covered[p.Name] = true
	}
	if len(problems) > 0 {
		return Report{}, errors.New(summarise(problems))
	}

	for _, a := range plan {
		if err := a.param.Set(a.value); err != nil {
			return Report{}, errors.Wrapf(err, "set %q", a.param.Name)
		}
	}

	report := Report{Applied: len(plan)}
	for _, p := range params {
		if !covered[p.Name] {
			report.Untouched = append(report.Untouched, p.Name)
		}
	}
	return report, nil
}

// convertTo returns t in dtype, converting floating point checkpoints.
func convertTo(t *tensors.Tensor, dtype dtypes.DType) (*tensors.Tensor, error) {
	if t.DType() == dtype {
		return t, nil
	}
	if dtype != dtypes.Float32 {
		return nil, errors.Errorf("cannot convert %s to %s", t.DType(), dtype)
	}
	values, err := assets.Float32Values(t)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(values, t.Shape().Dimensions...), nil
}

func summarise(problems []string) string {
	const limit = 5
	if len(problems) <= limit {
		return strings.Join(problems, "; ")
	}
	return fmt.Sprintf("%s; and %d more", strings.Join(problems[:limit], "; "), len(problems)-limit)
}
