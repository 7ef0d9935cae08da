package problem

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"evotree/internal/random"
)

var ErrEmptyDataset = errors.New("dataset has no rows")

// Dataset is a table of input variables and one numeric target per row.
type Dataset struct {
	Name      string
	Variables []string
	Inputs    [][]float64
	Targets   []float64
}

func (d Dataset) Len() int {
	return len(d.Targets)
}

// Bind writes row i into vars keyed by variable name.
func (d Dataset) Bind(i int, vars map[string]float64) {
	for j, name := range d.Variables {
		vars[name] = d.Inputs[i][j]
	}
}

// Split returns the first fraction of rows and the remainder.
func (d Dataset) Split(fraction float64) (Dataset, Dataset, error) {
	if fraction <= 0 || fraction >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("split fraction must be in (0, 1)")
	}
	cut := int(math.Round(float64(d.Len()) * fraction))
	if cut == 0 || cut == d.Len() {
		return Dataset{}, Dataset{}, fmt.Errorf("split of %d rows at %.2f leaves an empty side", d.Len(), fraction)
	}
	head := Dataset{Name: d.Name + ":train", Variables: d.Variables, Inputs: d.Inputs[:cut], Targets: d.Targets[:cut]}
	tail := Dataset{Name: d.Name + ":test", Variables: d.Variables, Inputs: d.Inputs[cut:], Targets: d.Targets[cut:]}
	return head, tail, nil
}

// LoadCSV reads a headed CSV table. The column named target holds the
// expected output; an empty target selects the last column. Every other
// column becomes a variable named after its header.
func LoadCSV(in io.Reader, name, target string) (Dataset, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Dataset{}, ErrEmptyDataset
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset csv header: %w", err)
	}
	if len(header) < 2 {
		return Dataset{}, fmt.Errorf("dataset needs at least one input and one target column")
	}

	targetIndex := len(header) - 1
	if target != "" {
		targetIndex = -1
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), target) {
				targetIndex = i
			}
		}
		if targetIndex < 0 {
			return Dataset{}, fmt.Errorf("target column %q not found", target)
		}
	}

	out := Dataset{Name: name}
	for i, h := range header {
		if i != targetIndex {
			out.Variables = append(out.Variables, strings.TrimSpace(h))
		}
	}

	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read dataset csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return Dataset{}, fmt.Errorf("dataset row %d has %d columns, header has %d", rowIndex, len(record), len(header))
		}

		inputs := make([]float64, 0, len(record)-1)
		for i, raw := range record {
			value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("parse dataset row %d column %d: %w", rowIndex, i, err)
			}
			if i == targetIndex {
				out.Targets = append(out.Targets, value)
			} else {
				inputs = append(inputs, value)
			}
		}
		out.Inputs = append(out.Inputs, inputs)
		rowIndex++
	}
	if out.Len() == 0 {
		return Dataset{}, ErrEmptyDataset
	}
	return out, nil
}

func LoadCSVFile(path, target string) (Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer file.Close()
	return LoadCSV(file, path, target)
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// TargetFunc is a synthetic ground truth over named variables.
type TargetFunc func(vars map[string]float64) float64

var targets = map[string]struct {
	variables []string
	fn        TargetFunc
}{
	"quadratic": {[]string{"X"}, func(v map[string]float64) float64 { return v["X"]*v["X"] + v["X"] }},
	"quartic": {[]string{"X"}, func(v map[string]float64) float64 {
		x := v["X"]
		return x*x*x*x + x*x*x + x*x + x
	}},
	"sine":  {[]string{"X"}, func(v map[string]float64) float64 { return math.Sin(v["X"]) }},
	"plane": {[]string{"X", "Y"}, func(v map[string]float64) float64 { return 2*v["X"] - v["Y"] + 1 }},
	"xor": {[]string{"X", "Y"}, func(v map[string]float64) float64 {
		if (v["X"] > 0) != (v["Y"] > 0) {
			return 1
		}
		return 0
	}},
}

// TargetByName returns a built-in target and the variables it reads.
func TargetByName(name string) (TargetFunc, []string, error) {
	t, ok := targets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported target function: %s", name)
	}
	return t.fn, append([]string(nil), t.variables...), nil
}

// Sample draws n rows with each variable uniform in [lo, hi] and labels them
// with fn.
func Sample(name string, fn TargetFunc, variables []string, lo, hi float64, n int, rng random.Source) (Dataset, error) {
	if n <= 0 {
		return Dataset{}, fmt.Errorf("sample size must be > 0")
	}
	if hi < lo {
		return Dataset{}, fmt.Errorf("sample range must satisfy lo <= hi")
	}
	if rng == nil {
		return Dataset{}, errors.New("random source is required")
	}
	out := Dataset{Name: name, Variables: append([]string(nil), variables...)}
	vars := make(map[string]float64, len(variables))
	for i := 0; i < n; i++ {
		row := make([]float64, len(variables))
		for j, v := range variables {
			row[j] = lo + rng.Float64()*(hi-lo)
			vars[v] = row[j]
		}
		out.Inputs = append(out.Inputs, row)
		out.Targets = append(out.Targets, fn(vars))
	}
	return out, nil
}
