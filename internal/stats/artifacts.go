package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"evotree/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	configFile         = "config.yaml"
	runFile            = "run.json"
	fitnessFile        = "fitness_history.json"
	generationsFile    = "generations.csv"
	topFile            = "top_individuals.json"
	bestFile           = "best.txt"
	plotFile           = "fitness.png"
	generationsColumns = 12
)

// RunArtifacts is everything written to a run directory.
type RunArtifacts struct {
	Run model.RunRecord
	// ConfigYAML is the run configuration as it was loaded.
	ConfigYAML  []byte
	Generations []model.GenerationSummary
	Top         []model.IndividualRecord
	// BestDiagram is the indented rendering of the best tree.
	BestDiagram string
	// Plot also renders fitness.png when set.
	Plot bool
}

// FitnessHistory is the per-generation best and average fitness.
type FitnessHistory struct {
	BestByGeneration    []model.Score `json:"best_by_generation"`
	AverageByGeneration []model.Score `json:"average_by_generation"`
	FinalBestFitness    model.Score   `json:"final_best_fitness"`
}

type RunIndexEntry struct {
	RunID          string      `json:"run_id"`
	Problem        string      `json:"problem"`
	PopulationSize int         `json:"population_size"`
	Generations    int         `json:"generations"`
	Seed           int64       `json:"seed"`
	BestFitness    model.Score `json:"best_fitness"`
	BestExpression string      `json:"best_expression"`
	CreatedAtUTC   string      `json:"created_at_utc"`
}

// IndexEntry summarises run for the run index.
func IndexEntry(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:          run.ID,
		Problem:        run.Problem,
		PopulationSize: run.PopulationSize,
		Generations:    run.Generations,
		Seed:           run.Seed,
		BestFitness:    run.BestFitness,
		BestExpression: run.BestExpression,
		CreatedAtUTC:   run.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
}

// History extracts the fitness history from generation summaries.
func History(generations []model.GenerationSummary) FitnessHistory {
	out := FitnessHistory{
		BestByGeneration:    make([]model.Score, 0, len(generations)),
		AverageByGeneration: make([]model.Score, 0, len(generations)),
	}
	final := model.Score(0)
	for i, g := range generations {
		out.BestByGeneration = append(out.BestByGeneration, g.BestFitness)
		out.AverageByGeneration = append(out.AverageByGeneration, g.AverageFitness)
		if i == 0 || g.BestFitness > final {
			final = g.BestFitness
		}
	}
	out.FinalBestFitness = final
	return out
}

// WriteRunArtifacts writes the run directory under baseDir and returns its path.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if len(artifacts.ConfigYAML) > 0 {
		if err := os.WriteFile(filepath.Join(runDir, configFile), artifacts.ConfigYAML, 0o644); err != nil {
			return "", err
		}
	}
	if err := writeJSON(filepath.Join(runDir, runFile), artifacts.Run); err != nil {
		return "", err
	}
	history := History(artifacts.Generations)
	if err := writeJSON(filepath.Join(runDir, fitnessFile), history); err != nil {
		return "", err
	}
	if err := writeGenerationsCSV(filepath.Join(runDir, generationsFile), artifacts.Generations); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, topFile), artifacts.Top); err != nil {
		return "", err
	}
	best := artifacts.Run.BestExpression + "\n"
	if artifacts.BestDiagram != "" {
		best += "\n" + artifacts.BestDiagram
		if !strings.HasSuffix(best, "\n") {
			best += "\n"
		}
	}
	if err := os.WriteFile(filepath.Join(runDir, bestFile), []byte(best), 0o644); err != nil {
		return "", err
	}
	if artifacts.Plot && len(artifacts.Generations) > 0 {
		title := artifacts.Run.Problem
		if title == "" {
			title = artifacts.Run.ID
		}
		if err := WriteFitnessPlot(filepath.Join(runDir, plotFile), title, model.Floats(history.BestByGeneration), model.Floats(history.AverageByGeneration)); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func writeGenerationsCSV(path string, generations []model.GenerationSummary) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{
		"generation", "best_fitness", "average_fitness", "min_fitness", "fitness_std_dev", "failures",
		"mean_length", "max_length", "mean_depth", "max_depth", "fingerprint_diversity", "best_expression",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, g := range generations {
		if err := writer.Write([]string{
			strconv.Itoa(g.Generation),
			formatFloat(float64(g.BestFitness)),
			formatFloat(float64(g.AverageFitness)),
			formatFloat(float64(g.MinFitness)),
			formatFloat(g.FitnessStdDev),
			strconv.Itoa(g.Failures),
			formatFloat(g.MeanLength),
			strconv.Itoa(g.MaxLength),
			formatFloat(g.MeanDepth),
			strconv.Itoa(g.MaxDepth),
			strconv.Itoa(g.Diversity),
			g.BestExpression,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadGenerationsCSV reads generations.csv back from a run directory.
func ReadGenerationsCSV(baseDir, runID string) ([]model.GenerationSummary, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, generationsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []model.GenerationSummary{}, true, nil
		}
		return nil, false, err
	}

	out := make([]model.GenerationSummary, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) != generationsColumns {
			return nil, false, fmt.Errorf("generations row must have %d columns, got %d", generationsColumns, len(record))
		}
		g, err := parseGenerationRow(record)
		if err != nil {
			return nil, false, err
		}
		out = append(out, g)
	}
	return out, true, nil
}

func parseGenerationRow(record []string) (model.GenerationSummary, error) {
	var errs []error
	atoi := func(s string) int {
		v, err := strconv.Atoi(s)
		errs = append(errs, err)
		return v
	}
	atof := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		return v
	}
	g := model.GenerationSummary{
		Generation:     atoi(record[0]),
		BestFitness:    model.Score(atof(record[1])),
		AverageFitness: model.Score(atof(record[2])),
		MinFitness:     model.Score(atof(record[3])),
		FitnessStdDev:  atof(record[4]),
		Failures:       atoi(record[5]),
		MeanLength:     atof(record[6]),
		MaxLength:      atoi(record[7]),
		MeanDepth:      atof(record[8]),
		MaxDepth:       atoi(record[9]),
		Diversity:      atoi(record[10]),
		BestExpression: record[11],
	}
	if err := errors.Join(errs...); err != nil {
		return model.GenerationSummary{}, fmt.Errorf("parse generations row %s: %w", record[0], err)
	}
	return g, nil
}

func ReadFitnessHistory(baseDir, runID string) (FitnessHistory, bool, error) {
	var history FitnessHistory
	ok, err := readJSON(filepath.Join(baseDir, runID, fitnessFile), &history)
	return history, ok, err
}

func ReadTopIndividuals(baseDir, runID string) ([]model.IndividualRecord, bool, error) {
	var top []model.IndividualRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, topFile), &top)
	return top, ok, err
}

func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	var run model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, runFile), &run)
	return run, ok, err
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first. Entries with equal
// timestamps keep the most recently appended first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, idx := range order {
		sorted = append(sorted, entries[idx])
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir. Optional files that
// were never written are skipped.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{runFile, fitnessFile, generationsFile, topFile, bestFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{configFile, plotFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
