// Command validate checks forecast outputs for structural integrity. A NetCDF
// dataset is checked for its variables, dimensions, coordinate axes, time
// axis against the lead time, and the fraction of filled (missing) values. A
// field-path output directory is checked for one complete, NaN-free npz
// archive per step with its metadata sidecar.
//
// Usage:
//
//	go run ./cmd/validate -dataset output/fcnv2_2023-01-01T00_to_2023-01-11T00_ldt_240.nc
//	go run ./cmd/validate -fields output/req-1 -lead-time 48
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/fieldstore"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/adapter/netcdf"
	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataset := flag.String("dataset", "", "NetCDF dataset written on the dataset path")
	fieldsDir := flag.String("fields", "", "directory of step_XXX.npz outputs written on the field path")
	lead := flag.Int("lead-time", 0, "expected lead time in hours (default: the dataset's lead_time_hours)")
	maxFill := flag.Float64("max-fill", 0.01, "maximum fraction of missing values per variable")
	flag.Parse()

	if (*dataset == "") == (*fieldsDir == "") {
		flag.Usage()
		os.Exit(2)
	}

	var phases []*phase
	if *dataset != "" {
		ds, err := netcdf.ReadDataset(*dataset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read dataset: %v\n", err)
			os.Exit(1)
		}
		phases = validateDataset(ds, *lead, *maxFill)
	} else {
		phases = validateFieldOutputs(*fieldsDir, *lead)
	}

	if !report(phases) {
		os.Exit(1)
	}
}

func report(phases []*phase) bool {
	fmt.Println("=== Forecast Output Validation ===")
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = "FAIL"
			allPassed = false
		}
		fmt.Printf("[%s] %s\n", status, p.name)
		for _, e := range p.errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	fmt.Println()
	if allPassed {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Validation FAILED.")
	}
	return allPassed
}

// validateDataset runs every dataset phase. lead of 0 uses the dataset's own
// lead time.
func validateDataset(ds domain.Dataset, lead int, maxFill float64) []*phase {
	if lead == 0 {
		lead = ds.LeadTimeHours
	}
	return []*phase{
		checkCoordinates(ds),
		checkTimeAxis(ds, lead),
		checkVariables(ds),
		checkFill(ds, maxFill),
	}
}

func checkCoordinates(ds domain.Dataset) *phase {
	p := &phase{name: "coordinates"}
	if !slices.Equal(ds.Levels, domain.ChannelLevels()) {
		p.errorf("isobaricInhPa = %v, want %v", ds.Levels, domain.ChannelLevels())
	}
	if len(ds.Lat) < 2 || len(ds.Lon) < 1 {
		p.errorf("grid %dx%d is degenerate", len(ds.Lat), len(ds.Lon))
		return p
	}
	for i := 1; i < len(ds.Lat); i++ {
		if ds.Lat[i] >= ds.Lat[i-1] {
			p.errorf("latitudes are not strictly north to south at index %d (%g after %g)", i, ds.Lat[i], ds.Lat[i-1])
			break
		}
	}
	for _, l := range ds.Lat {
		if l < -90 || l > 90 {
			p.errorf("latitude %g out of range", l)
			break
		}
	}
	return p
}

func checkTimeAxis(ds domain.Dataset, lead int) *phase {
	p := &phase{name: "time axis"}
	if lead <= 0 || lead%domain.HourSteps != 0 {
		p.errorf("lead time %dh is not a positive multiple of %dh", lead, domain.HourSteps)
		return p
	}
	want := lead / domain.HourSteps
	if len(ds.Times) != want {
		p.errorf("%d time steps, want %d for %dh", len(ds.Times), want, lead)
	}
	if ds.InitTime.IsZero() {
		p.errorf("missing init_time attribute")
		return p
	}
	for k, t := range ds.Times {
		expected := ds.InitTime.Add(time.Duration((k+1)*domain.HourSteps) * time.Hour)
		if !t.Equal(expected) {
			p.errorf("time[%d] = %s, want %s", k, t.Format(time.RFC3339), expected.Format(time.RFC3339))
			break
		}
	}
	return p
}

func checkVariables(ds domain.Dataset) *phase {
	p := &phase{name: "variables"}
	byName := make(map[string]domain.Variable, len(ds.Variables))
	for _, v := range ds.Variables {
		byName[v.Name] = v
	}
	steps, nLat, nLon, nLev := len(ds.Times), len(ds.Lat), len(ds.Lon), len(ds.Levels)

	for _, name := range domain.SurfaceParamsXR {
		checkVariable(p, byName, name, []string{domain.DimTime, domain.DimLat, domain.DimLon}, []int{steps, nLat, nLon})
	}
	for _, name := range domain.PressureParams {
		checkVariable(p, byName, name,
			[]string{domain.DimTime, domain.DimLevel, domain.DimLat, domain.DimLon}, []int{steps, nLev, nLat, nLon})
	}
	if extra := len(byName) - len(domain.SurfaceParamsXR) - len(domain.PressureParams); extra > 0 {
		p.errorf("%d unexpected variables", extra)
	}
	return p
}

func checkVariable(p *phase, byName map[string]domain.Variable, name string, dims []string, shape []int) {
	v, ok := byName[name]
	if !ok {
		p.errorf("missing variable %s", name)
		return
	}
	if !slices.Equal(v.Dims, dims) {
		p.errorf("%s dims = %v, want %v", name, v.Dims, dims)
	}
	if !slices.Equal(v.Shape, shape) {
		p.errorf("%s shape = %v, want %v", name, v.Shape, shape)
	}
}

func checkFill(ds domain.Dataset, maxFill float64) *phase {
	p := &phase{name: "missing values"}
	for _, v := range ds.Variables {
		if len(v.Values) == 0 {
			p.errorf("%s has no values", v.Name)
			continue
		}
		missing := 0
		for _, x := range v.Values {
			if math.IsNaN(float64(x)) {
				missing++
			}
		}
		if frac := float64(missing) / float64(len(v.Values)); frac > maxFill {
			p.errorf("%s: %.2f%% missing, limit %.2f%%", v.Name, 100*frac, 100*maxFill)
		}
	}
	return p
}

// validateFieldOutputs checks the step archives and sidecars under dir.
func validateFieldOutputs(dir string, lead int) []*phase {
	files := &phase{name: "step files"}
	content := &phase{name: "step contents"}

	archives, err := filepath.Glob(filepath.Join(dir, "step_*.npz"))
	if err != nil || len(archives) == 0 {
		files.errorf("no step archives in %s", dir)
		return []*phase{files, content}
	}
	slices.Sort(archives)
	if lead > 0 && len(archives) != lead/domain.HourSteps {
		files.errorf("%d step archives, want %d for %dh", len(archives), lead/domain.HourSteps, lead)
	}

	for k, archive := range archives {
		hours := (k + 1) * domain.HourSteps
		if want := filepath.Join(dir, fmt.Sprintf("step_%03d.npz", hours)); archive != want {
			files.errorf("archive %d is %s, want %s", k, filepath.Base(archive), filepath.Base(want))
		}
		meta, err := readStepMeta(archive[:len(archive)-len(".npz")] + ".json")
		if err != nil {
			files.errorf("%v", err)
		} else if meta.ExpVer != domain.ExpVer {
			content.errorf("%s: expver %q, want %q", filepath.Base(archive), meta.ExpVer, domain.ExpVer)
		}
		checkStepArchive(content, archive)
	}
	return []*phase{files, content}
}

func readStepMeta(path string) (fieldstore.StepMeta, error) {
	var meta fieldstore.StepMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta, nil
}

func checkStepArchive(p *phase, path string) {
	fl, err := fieldstore.ReadFieldList(path, time.Time{})
	if err != nil {
		p.errorf("%v", err)
		return
	}
	if _, err := fl.OrderBy(domain.OrderingCML); err != nil {
		p.errorf("%s: %v", filepath.Base(path), err)
	}
	for _, f := range fl {
		if domain.HasNaN(f.Values) {
			p.errorf("%s: %s contains NaN", filepath.Base(path), f.Name())
		}
	}
}
